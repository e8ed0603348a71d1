package policy

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

func TestApplyHeaderOps(t *testing.T) {
	tests := []struct {
		name  string
		start http.Header
		ops   []api.FieldOp
		want  http.Header
	}{
		{
			name:  "add sets a new header",
			start: http.Header{},
			ops:   []api.FieldOp{{Operation: api.OpAdd, Name: "X-Test", Value: "1"}},
			want:  http.Header{"X-Test": {"1"}},
		},
		{
			name:  "add overwrites an existing header",
			start: http.Header{"X-Test": {"0"}},
			ops:   []api.FieldOp{{Operation: api.OpAdd, Name: "X-Test", Value: "1"}},
			want:  http.Header{"X-Test": {"1"}},
		},
		{
			name:  "modify overwrites",
			start: http.Header{"X-Test": {"0"}},
			ops:   []api.FieldOp{{Operation: api.OpModify, Name: "X-Test", Value: "2"}},
			want:  http.Header{"X-Test": {"2"}},
		},
		{
			name:  "modify adds when absent",
			start: http.Header{},
			ops:   []api.FieldOp{{Operation: api.OpModify, Name: "X-Test", Value: "2"}},
			want:  http.Header{"X-Test": {"2"}},
		},
		{
			name:  "remove deletes",
			start: http.Header{"X-Test": {"1"}, "Other": {"keep"}},
			ops:   []api.FieldOp{{Operation: api.OpRemove, Name: "X-Test"}},
			want:  http.Header{"Other": {"keep"}},
		},
		{
			name:  "remove of absent header is a no-op",
			start: http.Header{"Other": {"keep"}},
			ops:   []api.FieldOp{{Operation: api.OpRemove, Name: "X-Test"}},
			want:  http.Header{"Other": {"keep"}},
		},
		{
			name:  "ops apply in order, last write wins",
			start: http.Header{},
			ops: []api.FieldOp{
				{Operation: api.OpAdd, Name: "X-Test", Value: "1"},
				{Operation: api.OpModify, Name: "X-Test", Value: "2"},
			},
			want: http.Header{"X-Test": {"2"}},
		},
		{
			name:  "add after remove restores",
			start: http.Header{"X-Test": {"0"}},
			ops: []api.FieldOp{
				{Operation: api.OpRemove, Name: "X-Test"},
				{Operation: api.OpAdd, Name: "X-Test", Value: "1"},
			},
			want: http.Header{"X-Test": {"1"}},
		},
		{
			name:  "header names are case insensitive",
			start: http.Header{"X-Test": {"0"}},
			ops:   []api.FieldOp{{Operation: api.OpRemove, Name: "x-test"}},
			want:  http.Header{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ApplyHeaderOps(tt.start, tt.ops)
			assert.Equal(t, tt.want, tt.start)
		})
	}
}

func TestApplyHeaderOpsRemoveIsIdempotent(t *testing.T) {
	once := http.Header{"X-Test": {"1"}, "Other": {"keep"}}
	twice := http.Header{"X-Test": {"1"}, "Other": {"keep"}}
	ops := []api.FieldOp{{Operation: api.OpRemove, Name: "X-Test"}}

	ApplyHeaderOps(once, ops)
	ApplyHeaderOps(twice, ops)
	ApplyHeaderOps(twice, ops)

	assert.Equal(t, once, twice)
}

func TestApplyQueryOps(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ops  []api.FieldOp
		want url.Values
	}{
		{
			name: "add sets a parameter",
			in:   "https://x.test/a",
			ops:  []api.FieldOp{{Operation: api.OpAdd, Name: "page", Value: "2"}},
			want: url.Values{"page": {"2"}},
		},
		{
			name: "add overwrites duplicates with a single value",
			in:   "https://x.test/a?page=1&page=3",
			ops:  []api.FieldOp{{Operation: api.OpAdd, Name: "page", Value: "2"}},
			want: url.Values{"page": {"2"}},
		},
		{
			name: "modify adds when absent",
			in:   "https://x.test/a",
			ops:  []api.FieldOp{{Operation: api.OpModify, Name: "page", Value: "2"}},
			want: url.Values{"page": {"2"}},
		},
		{
			name: "remove deletes the parameter",
			in:   "https://x.test/a?debug=1&page=2",
			ops:  []api.FieldOp{{Operation: api.OpRemove, Name: "debug"}},
			want: url.Values{"page": {"2"}},
		},
		{
			name: "remove of absent parameter is a no-op",
			in:   "https://x.test/a?page=2",
			ops:  []api.FieldOp{{Operation: api.OpRemove, Name: "debug"}},
			want: url.Values{"page": {"2"}},
		},
		{
			name: "absent value becomes empty string",
			in:   "https://x.test/a",
			ops:  []api.FieldOp{{Operation: api.OpAdd, Name: "flag"}},
			want: url.Values{"flag": {""}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.in)
			require.NoError(t, err)
			ApplyQueryOps(u, tt.ops)
			assert.Equal(t, tt.want, u.Query())
		})
	}
}

func TestEffectName(t *testing.T) {
	assert.Equal(t, "modify_headers", Name(ModifyHeaders{}))
	assert.Equal(t, "rewrite_query", Name(RewriteQuery{}))
	assert.Equal(t, "redirect", Name(Redirect{}))
	assert.Equal(t, "block", Name(Block{}))
	assert.Equal(t, "mock", Name(Mock{}))
	assert.Equal(t, "inject_script", Name(InjectScript{}))
	assert.Equal(t, "none", Name(nil))
}
