package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
	"github.com/imerljak/flow-craft-sub001/pkg/admin"
	"github.com/imerljak/flow-craft-sub001/pkg/api"
	"github.com/imerljak/flow-craft-sub001/pkg/bridge"
	"github.com/imerljak/flow-craft-sub001/pkg/cdp"
	"github.com/imerljak/flow-craft-sub001/pkg/intercept"
	"github.com/imerljak/flow-craft-sub001/pkg/logging"
	"github.com/imerljak/flow-craft-sub001/pkg/policy"
	"github.com/imerljak/flow-craft-sub001/pkg/store"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the interception engine (proxy, bridge, admin API)",
	Long: `Run the interception engine.

Rules come from the sqlite store under the data directory by default;
--rules-file switches to a JSON rules file instead (with --watch the file
is recompiled on change). The MITM proxy, the unix-socket mock bridge and
the admin REST API all serve the same compiled rule set.`,
	Example: `  flowcraft run
  flowcraft run --listen 127.0.0.1:9000 --no-mitm
  flowcraft run --rules-file rules.json --watch
  flowcraft run --devtools-url http://127.0.0.1:9222`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("listen", "", "Proxy listen address (default 127.0.0.1:8890)")
	runCmd.Flags().String("admin-listen", "", "Admin API listen address (default 127.0.0.1:8899)")
	runCmd.Flags().String("bridge-socket", "", "Bridge unix socket path (default <data-dir>/bridge.sock)")
	runCmd.Flags().String("rules-file", "", "Load rules from a JSON file instead of the store")
	runCmd.Flags().Bool("watch", false, "Recompile rules when the rules file changes")
	runCmd.Flags().String("devtools-url", "", "Attach to a browser's DevTools endpoint (e.g. http://127.0.0.1:9222)")
	runCmd.Flags().Bool("no-proxy", false, "Disable the proxy adapter")
	runCmd.Flags().Bool("no-mitm", false, "Relay CONNECT tunnels without TLS interception")
	runCmd.Flags().Bool("capture", false, "Capture request/response bodies to a binary log")
	viper.BindPFlag("run.listen", runCmd.Flags().Lookup("listen"))
	viper.BindPFlag("run.admin-listen", runCmd.Flags().Lookup("admin-listen"))
	viper.BindPFlag("run.bridge-socket", runCmd.Flags().Lookup("bridge-socket"))
	viper.BindPFlag("run.rules-file", runCmd.Flags().Lookup("rules-file"))
	viper.BindPFlag("run.watch", runCmd.Flags().Lookup("watch"))
	viper.BindPFlag("run.devtools-url", runCmd.Flags().Lookup("devtools-url"))

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)

	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return errx.Wrap(ErrCreateDataDir, err)
	}
	logDir := cfg.Log.GetDir(dataDir)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return errx.Wrap(ErrCreateDataDir, err)
	}

	logger := slog.Default()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Rule source: sqlite store or a plain rules file.
	var (
		source policy.Source
		st     *store.Store
		fs     *store.FileSource
	)
	if cfg.Rules != nil && cfg.Rules.File != "" {
		fs = store.NewFileSource(cfg.Rules.File, logger)
		source = fs
	} else {
		st, err = store.Open(cfg.DBPath(), logger)
		if err != nil {
			return errx.Wrap(ErrOpenStore, err)
		}
		defer st.Close()
		source = st
	}

	engine := policy.NewEngine(logger)
	cache := policy.NewCache(source, engine, logger)
	if err := cache.Refresh(ctx); err != nil {
		if fs != nil {
			return errx.Wrap(ErrLoadRulesFile, err)
		}
		return err
	}

	// Traffic event sinks.
	maxSize, maxBackups := 50, 3
	if cfg.Log != nil {
		if cfg.Log.MaxSizeMB > 0 {
			maxSize = cfg.Log.MaxSizeMB
		}
		if cfg.Log.MaxBackups > 0 {
			maxBackups = cfg.Log.MaxBackups
		}
	}
	jsonl := logging.NewRotatingJSONLWriter(filepath.Join(logDir, "events.jsonl"), maxSize, maxBackups)
	emitter := logging.NewEmitter(logging.EmitterConfig{SessionID: uuid.NewString()}, jsonl)
	defer emitter.Close()

	var capture *logging.CaptureWriter
	captureEnabled, _ := cmd.Flags().GetBool("capture")
	if captureEnabled || (cfg.Log != nil && cfg.Log.Capture) {
		capture, err = logging.NewCaptureWriter(filepath.Join(logDir, "capture.cbor"))
		if err != nil {
			return errx.Wrap(ErrOpenCapture, err)
		}
		defer capture.Close()
	}

	// Every adapter reports decided requests here: store index plus the
	// live admin event feed.
	onEvent := func(ev api.InterceptEvent) {
		if st == nil {
			return
		}
		st.PublishIntercept(ev)
		rec := &store.TrafficRecord{
			At:         time.Now(),
			Adapter:    ev.Adapter,
			Method:     ev.Method,
			URL:        ev.URL,
			Host:       ev.Host,
			StatusCode: ev.StatusCode,
			RuleID:     ev.RuleID,
			RuleName:   ev.RuleName,
			Effect:     ev.Effect,
			Blocked:    ev.Blocked,
			Mocked:     ev.Mocked,
			DurationMS: ev.DurationMS,
		}
		if err := st.AppendTraffic(context.Background(), rec); err != nil {
			logger.Warn("failed to index traffic record", "error", err)
		}
	}

	// Bridge server on the unix socket.
	var bridgeSrv *bridge.Server
	if cfg.Bridge == nil || !cfg.Bridge.Disabled {
		bridgeSrv = bridge.NewServer(bridge.Config{
			Socket:  cfg.Bridge.GetSocket(dataDir),
			Decider: cache,
			Rules:   snapshotLister{source: source},
			Emitter: emitter.WithAdapter(logging.AdapterBridge),
			OnLog:   bridgeLogger(st, capture, logger),
			Logger:  logger,
		})
		if err := bridgeSrv.Start(ctx); err != nil {
			return errx.Wrap(ErrStartBridge, err)
		}
		defer bridgeSrv.Stop()
	}

	// MITM proxy.
	if cfg.Proxy == nil || !cfg.Proxy.Disabled {
		var pool *intercept.CAPool
		if cfg.Proxy == nil || cfg.Proxy.MITM {
			pool, err = intercept.NewCAPool(filepath.Join(dataDir, "ca"))
			if err != nil {
				return err
			}
			logger.Info("trust the MITM CA for HTTPS interception", "cert", pool.CACertPath())
		}
		proxy := intercept.NewProxy(intercept.Config{
			Listen:  cfg.Proxy.GetListen(),
			Decider: cache,
			CAPool:  pool,
			Emitter: emitter.WithAdapter(logging.AdapterProxy),
			OnEvent: onEvent,
			Logger:  logger,
		})
		if err := proxy.Start(ctx); err != nil {
			return errx.Wrap(ErrStartProxy, err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = proxy.Stop(shutdownCtx)
		}()
	}

	// Admin API needs the store; file mode runs headless.
	if st != nil {
		adminSrv := admin.NewServer(admin.Config{
			Listen: cfg.Admin.GetListen(),
			Store:  st,
			Logger: logger,
		})
		if err := adminSrv.Start(); err != nil {
			return errx.Wrap(ErrStartAdmin, err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = adminSrv.Stop(shutdownCtx)
		}()
	}

	// DevTools adapter, opt-in.
	if cfg.DevTools != nil && cfg.DevTools.URL != "" {
		adapter := cdp.New(cdp.Config{
			DevToolsURL: cfg.DevTools.URL,
			Decider:     cache,
			Emitter:     emitter.WithAdapter(logging.AdapterCDP),
			OnEvent:     onEvent,
			Logger:      logger,
		})
		if err := adapter.Attach(ctx); err != nil {
			return errx.Wrap(ErrAttachBrowser, err)
		}
		if err := adapter.Start(); err != nil {
			return errx.Wrap(ErrAttachBrowser, err)
		}
		defer adapter.Stop()
	}

	// Rule changes invalidate the compiled snapshot and push a sync to
	// bridge clients.
	if st != nil {
		events, cancel := st.Subscribe(64)
		defer cancel()
		go func() {
			for ev := range events {
				if ev.Type != api.EventTypeRules {
					continue
				}
				cache.Invalidate()
				if err := cache.Refresh(ctx); err != nil {
					logger.Warn("rule refresh failed", "error", err)
					continue
				}
				ruleID, count := "", 0
				if ev.Rules != nil {
					ruleID, count = ev.Rules.RuleID, ev.Rules.Count
				}
				if bridgeSrv != nil {
					bridgeSrv.BroadcastSync(count)
				}
				_ = emitter.Emit(logging.EventRuleSync, "rules recompiled", ruleID, nil, nil)
			}
		}()
	}
	if fs != nil && cfg.Rules.Watch {
		go func() {
			err := fs.Watch(ctx, func() {
				cache.Invalidate()
				if err := cache.Refresh(ctx); err != nil {
					logger.Warn("rules file reload failed", "error", err)
					return
				}
				if bridgeSrv != nil {
					if _, rules, err := fs.RuleSnapshot(ctx); err == nil {
						bridgeSrv.BroadcastSync(len(rules))
					}
				}
				logger.Info("rules file reloaded", "path", fs.Path())
			})
			if err != nil && ctx.Err() == nil {
				logger.Error("rules file watch failed", "error", err)
			}
		}()
	}

	logger.Info("flowcraft running", "data_dir", dataDir)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// applyRunFlags folds run flags over the file config.
func applyRunFlags(cmd *cobra.Command, cfg *api.Config) {
	if cfg.Proxy == nil {
		cfg.Proxy = &api.ProxyConfig{MITM: true}
	}
	if cfg.Bridge == nil {
		cfg.Bridge = &api.BridgeConfig{}
	}
	if cfg.Admin == nil {
		cfg.Admin = &api.AdminConfig{}
	}
	if cfg.Log == nil {
		cfg.Log = &api.LogConfig{}
	}
	if v := viper.GetString("run.listen"); v != "" {
		cfg.Proxy.Listen = v
	}
	if v := viper.GetString("run.admin-listen"); v != "" {
		cfg.Admin.Listen = v
	}
	if v := viper.GetString("run.bridge-socket"); v != "" {
		cfg.Bridge.Socket = v
	}
	if v := viper.GetString("run.rules-file"); v != "" {
		cfg.Rules = &api.RulesSource{File: v, Watch: viper.GetBool("run.watch")}
	}
	if v := viper.GetString("run.devtools-url"); v != "" {
		cfg.DevTools = &api.DevToolsConfig{URL: v}
	}
	if noProxy, _ := cmd.Flags().GetBool("no-proxy"); noProxy {
		cfg.Proxy.Disabled = true
	}
	if noMITM, _ := cmd.Flags().GetBool("no-mitm"); noMITM {
		cfg.Proxy.MITM = false
	}
}

// snapshotLister adapts a rule source to the bridge's rule listing.
type snapshotLister struct {
	source policy.Source
}

func (l snapshotLister) ListRules(ctx context.Context) ([]api.Rule, error) {
	_, rules, err := l.source.RuleSnapshot(ctx)
	return rules, err
}

// bridgeLogger indexes LOG_REQUEST/LOG_RESPONSE entries from SDK clients
// and, when enabled, captures their bodies.
func bridgeLogger(st *store.Store, capture *logging.CaptureWriter, logger *slog.Logger) func(string, *bridge.LogEntry) {
	return func(direction string, entry *bridge.LogEntry) {
		if st != nil && direction == bridge.TypeLogResponse {
			rec := &store.TrafficRecord{
				At:         time.Now(),
				Adapter:    logging.AdapterSDK,
				Method:     entry.Method,
				URL:        entry.URL,
				StatusCode: entry.StatusCode,
				RuleID:     entry.RuleID,
				Mocked:     entry.Mocked,
				DurationMS: entry.DurationMS,
			}
			if err := st.AppendTraffic(context.Background(), rec); err != nil {
				logger.Warn("failed to index bridge log entry", "error", err)
			}
		}
		if capture != nil {
			body, truncated := logging.TruncateBody([]byte(entry.Body), 1<<20)
			c := &logging.Capture{
				At:         time.Now(),
				Adapter:    logging.AdapterSDK,
				Method:     entry.Method,
				URL:        entry.URL,
				StatusCode: entry.StatusCode,
				RuleID:     entry.RuleID,
				Mocked:     entry.Mocked,
				Truncated:  truncated,
			}
			if direction == bridge.TypeLogRequest {
				c.ReqBody = body
			} else {
				c.RespBody = body
			}
			if err := capture.Write(c); err != nil {
				logger.Warn("failed to write capture", "error", err)
			}
		}
	}
}
