package logging

import (
	"sort"

	"github.com/kballard/go-shellquote"
)

// AsCurl renders a captured request as a copy-pasteable curl command.
// Headers are emitted in sorted order so output is deterministic.
func AsCurl(method, url string, headers map[string][]string, body []byte) string {
	args := []string{"curl"}
	if method != "" && method != "GET" {
		args = append(args, "-X", method)
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range headers[name] {
			args = append(args, "-H", name+": "+value)
		}
	}

	if len(body) > 0 {
		args = append(args, "--data-binary", string(body))
	}
	args = append(args, url)
	return shellquote.Join(args...)
}
