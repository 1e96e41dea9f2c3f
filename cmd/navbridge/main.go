// CLAUDE:SUMMARY CLI entry point for navbridge: runs one navigation session over Chrome or the simulated script runtime.
// Command navbridge runs a navigation session and streams its events.
//
// Usage:
//
//	navbridge -config navbridge.yaml        # session from YAML config
//	navbridge -url https://example.com/     # Chrome session, stdout sink
//	navbridge -simulate                     # simulated runtime, no browser
//
// Visits are requested on stdin, one command per line:
//
//	visit <location> [advance|restore|replace] [destination]
//	reset
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/navbridge/internal/config"
	"github.com/hazyhaar/navbridge/internal/dbopen"
	"github.com/hazyhaar/navbridge/internal/idgen"
	"github.com/hazyhaar/navbridge/navsession"
	"github.com/hazyhaar/navbridge/pathconfig"
	"github.com/hazyhaar/navbridge/scriptview"
	"github.com/hazyhaar/navbridge/sink"
	"github.com/hazyhaar/navbridge/webview"
)

func main() {
	configPath := flag.String("config", "", "path to navbridge.yaml config file")
	rootURL := flag.String("url", "", "root location of the session")
	simulate := flag.Bool("simulate", false, "use the simulated script runtime instead of Chrome")
	metricsAddr := flag.String("metrics", "", "listen address for /health and /metrics")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "navbridge:", err)
			os.Exit(1)
		}
	}
	if *rootURL != "" {
		cfg.Session.RootLocation = *rootURL
	}
	if *simulate {
		cfg.Session.Runtime = config.RuntimeScript
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if cfg.Session.RootLocation == "" && cfg.Session.Runtime == config.RuntimeScript {
		cfg.Session.RootLocation = simulatedRoot
	}
	if cfg.Session.RootLocation == "" {
		fmt.Fprintln(os.Stderr, "usage: navbridge -config <file> | -url <url> | -simulate")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("navbridge: fatal", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// attachable is a bridge that reports back to the session once attached.
type attachable interface {
	navsession.Bridge
	attach(s *navsession.Session)
	close()
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	paths, closePaths, err := openPaths(ctx, logger, cfg.Paths)
	if err != nil {
		return err
	}
	defer closePaths()

	out := buildSinks(logger, cfg.Sinks)
	defer out.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := navsession.NewMetrics(reg)

	bridge, err := openBridge(logger, cfg)
	if err != nil {
		return err
	}
	defer bridge.close()

	sess, err := newSession(cfg.Session, bridge, paths, out, metrics, logger)
	if err != nil {
		return err
	}
	defer sess.Close()
	bridge.attach(sess)

	if cfg.Metrics.Addr != "" {
		srv := newServer(cfg.Metrics.Addr, sess, reg)
		go serve(ctx, logger, srv)
	}

	logger.Info("navbridge: session started",
		"session", sess.Name(), "root", sess.RootLocation(), "runtime", cfg.Session.Runtime)
	sess.RequestVisit(navsession.Visit{Location: sess.RootLocation(), Options: defaultOptions()})

	go func() {
		if err := readCommands(ctx, os.Stdin, sess, logger); err != nil {
			logger.Warn("navbridge: stdin", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("navbridge: shutting down")
	return nil
}

// newSession builds the session and its sink callback under one name, so
// sink events and session logs carry the same session field.
func newSession(sc config.SessionConfig, bridge navsession.Bridge, paths navsession.PropertyResolver,
	out sink.Sink, metrics *navsession.Metrics, logger *slog.Logger) (*navsession.Session, error) {
	name := sc.Name
	if name == "" {
		name = newSessionName()
	}
	sess, err := navsession.New(navsession.Config{
		Name:         name,
		RootLocation: sc.RootLocation,
		Bridge:       bridge,
		Paths:        paths,
		Callback:     sink.NewCallback(out, name, logger),
		Metrics:      metrics,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	return sess, nil
}

var newSessionName = idgen.Prefixed("sess_", idgen.Default)

func openPaths(ctx context.Context, logger *slog.Logger, pc config.PathsConfig) (navsession.PropertyResolver, func(), error) {
	noop := func() {}
	switch {
	case pc.File != "":
		c, err := pathconfig.LoadFile(pc.File)
		if err != nil {
			return nil, noop, fmt.Errorf("load paths: %w", err)
		}
		logger.Info("navbridge: path rules loaded", "file", pc.File, "rules", c.Rules())
		return c, noop, nil

	case pc.DB != "":
		db, err := dbopen.Open(pc.DB, dbopen.WithMkdirAll(), dbopen.WithSchema(pathconfig.Schema))
		if err != nil {
			return nil, noop, fmt.Errorf("open paths db: %w", err)
		}
		c, err := pathconfig.LoadDB(ctx, db)
		if err != nil {
			db.Close()
			return nil, noop, fmt.Errorf("load paths: %w", err)
		}
		live := pathconfig.NewLive(c)
		go pathconfig.Watch(ctx, db, live, pathconfig.WatchOptions{Interval: pc.Interval, Logger: logger})
		logger.Info("navbridge: path rules loaded", "db", pc.DB, "rules", c.Rules())
		return live, closeDB(db, logger), nil
	}
	return nil, noop, nil
}

func closeDB(db *sql.DB, logger *slog.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			logger.Warn("navbridge: close paths db", "error", err)
		}
	}
}

func buildSinks(logger *slog.Logger, cfgs []config.SinkConfig) sink.Sink {
	var sinks []sink.Sink
	for _, sc := range cfgs {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, sink.NewStdout(os.Stdout))
		case "webhook":
			sinks = append(sinks, sink.NewWebhook(sc.URL,
				sink.WithWebhookRetries(sc.Retries),
				sink.WithWebhookLogger(logger)))
		default:
			logger.Warn("navbridge: unknown sink type", "type", sc.Type)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, sink.NewStdout(os.Stdout))
	}
	return sink.NewRouter(logger, sinks...)
}

func openBridge(logger *slog.Logger, cfg *config.Config) (attachable, error) {
	if cfg.Session.Runtime == config.RuntimeScript {
		v := scriptview.New(simulatedSite, scriptview.Options{Logger: logger})
		return scriptBridge{v}, nil
	}

	mgr := webview.NewManager(webview.BrowserConfig{
		RemoteURL: cfg.Browser.Remote,
		Headful:   cfg.Browser.Mode == "headful",
		Stealth:   cfg.Browser.StealthEnabled(),
		Bin:       cfg.Browser.Bin,
		Logger:    logger,
	})
	page, err := mgr.NewPage()
	if err != nil {
		mgr.Close()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	v, err := webview.Open(page, webview.Options{Logger: logger})
	if err != nil {
		mgr.Close()
		return nil, err
	}
	return chromeBridge{View: v, mgr: mgr, logger: logger}, nil
}

type scriptBridge struct{ *scriptview.View }

func (b scriptBridge) attach(s *navsession.Session) { b.Attach(s) }
func (b scriptBridge) close()                       { b.Close() }

type chromeBridge struct {
	*webview.View
	mgr    *webview.Manager
	logger *slog.Logger
}

func (b chromeBridge) attach(s *navsession.Session) { b.Attach(s) }

func (b chromeBridge) close() {
	b.Close()
	if err := b.mgr.Close(); err != nil {
		b.logger.Warn("navbridge: close browser", "error", err)
	}
}
