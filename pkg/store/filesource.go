package store

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

const watchDebounce = 200 * time.Millisecond

// FileSource serves rule snapshots from a JSON file instead of the
// database. The file holds either a bare rule array or a full export
// envelope. File mode has no settings document; the interception toggle is
// always on.
type FileSource struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewFileSource returns a source reading from path.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &FileSource{
		path:   path,
		logger: logger.With("component", "rulesfile"),
		now:    time.Now,
	}
}

// Path returns the absolute path being read.
func (f *FileSource) Path() string { return f.path }

// RuleSnapshot loads and validates the file. Invalid rules are skipped.
func (f *FileSource) RuleSnapshot(_ context.Context) (api.Settings, []api.Rule, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return api.Settings{}, nil, errx.Wrap(ErrLoadRules, err)
	}
	rules, err := f.parse(raw)
	if err != nil {
		return api.Settings{}, nil, err
	}
	return api.DefaultSettings(), rules, nil
}

func (f *FileSource) parse(raw []byte) ([]api.Rule, error) {
	var listed []api.Rule
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &listed); err != nil {
			return nil, errx.Wrap(ErrLoadRules, err)
		}
	} else {
		var env api.ExportEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, errx.Wrap(ErrLoadRules, err)
		}
		listed = env.Rules
	}

	now := f.now()
	rules := make([]api.Rule, 0, len(listed))
	for _, rule := range listed {
		rule.Normalize(now)
		if err := rule.Validate(); err != nil {
			f.logger.Warn("skipping invalid rule from file", "rule_name", rule.Name, "error", err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Watch invokes onChange (debounced) whenever the file is rewritten. The
// parent directory is watched so atomic rename-style saves are seen too.
// Returns once the watcher is installed; watching stops when ctx ends.
func (f *FileSource) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errx.Wrap(ErrWatchSource, err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return errx.Wrap(ErrWatchSource, err)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != f.path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				f.logger.Debug("rules file changed", "op", ev.Op.String())
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, onChange)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.logger.Warn("rules file watcher error", "error", err)
			}
		}
	}()
	return nil
}
