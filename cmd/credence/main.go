// Command credence runs the execution-governance kernel: an HTTP
// server gating proposed automated actions on assumption confidence,
// plus audit log tooling.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/credalabs/credence/pkg/audit"
	"github.com/credalabs/credence/pkg/config"
	"github.com/credalabs/credence/pkg/governance"
	"github.com/credalabs/credence/pkg/guard"
	"github.com/credalabs/credence/pkg/observability"
	"github.com/credalabs/credence/pkg/server"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "serve", "server":
		return runServe(stderr)
	case "demo":
		return runDemo(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "export":
		return runExport(args[2:], stdout, stderr)
	case "replay":
		return runReplay(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: credence <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve    Run the governance API server")
	fmt.Fprintln(w, "  demo     Run a scripted security-response scenario")
	fmt.Fprintln(w, "  verify   Verify the hash chain of a JSONL audit log")
	fmt.Fprintln(w, "  export   Export an evidence bundle from a JSONL audit log")
	fmt.Fprintln(w, "  replay   Rebuild kernel state from a JSONL audit log")
	fmt.Fprintln(w, "  help     Show this help")
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func runServe(stderr io.Writer) int {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profile, err := config.LoadProfile(cfg.ProfileDir, cfg.Profile)
	if err != nil {
		fmt.Fprintf(stderr, "load profile: %v\n", err)
		return 1
	}
	logger.Info("policy profile loaded", "profile", profile.Name)

	trail, cleanup, err := buildAuditLog(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "audit setup: %v\n", err)
		return 1
	}
	defer cleanup()

	guards, err := guard.NewEvaluator()
	if err != nil {
		fmt.Fprintf(stderr, "guard evaluator: %v\n", err)
		return 1
	}

	kernel, err := governance.NewKernel(profile.Policy,
		governance.WithLogger(logger),
		governance.WithAuditLog(trail),
		governance.WithGuardEvaluator(guards),
	)
	if err != nil {
		fmt.Fprintf(stderr, "kernel: %v\n", err)
		return 1
	}

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:  "credence",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   1.0,
		Enabled:      cfg.OTLPEndpoint != "",
		Insecure:     true,
	})
	if err != nil {
		fmt.Fprintf(stderr, "telemetry: %v\n", err)
		return 1
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	var limiter server.LimiterStore
	if cfg.RedisAddr != "" {
		limiter = server.NewRedisLimiterStore(cfg.RedisAddr, cfg.RateLimit, cfg.RateBurst)
	} else {
		limiter = server.NewLocalLimiterStore(cfg.RateLimit, cfg.RateBurst)
	}

	srv := server.New(kernel,
		server.WithServerLogger(logger),
		server.WithAuth(cfg.AuthSecret),
		server.WithLimiter(limiter),
		server.WithTelemetry(telemetry),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx, cfg.Addr) })

	watcher, err := config.NewWatcher(cfg.ProfileDir, cfg.Profile, func(p *config.Profile) error {
		if err := kernel.SetConfig(p.Policy); err != nil {
			return err
		}
		logger.Info("policy profile reloaded", "profile", p.Name)
		return nil
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("profile watcher disabled", "error", err)
	} else {
		g.Go(func() error { return watcher.Run(ctx) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return 1
	}
	return 0
}

// buildAuditLog wires the configured sinks into a fresh audit log and
// returns a cleanup that closes them.
func buildAuditLog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*audit.Log, func(), error) {
	var closers []func() error
	opts := []audit.Option{audit.WithLogger(logger)}

	if cfg.AuditFile != "" {
		sink, err := audit.OpenFileSink(cfg.AuditFile)
		if err != nil {
			return nil, nil, fmt.Errorf("file sink: %w", err)
		}
		closers = append(closers, sink.Close)
		opts = append(opts, audit.WithSink(sink))
	}
	if cfg.SQLitePath != "" {
		sink, err := audit.OpenSQLiteSink(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite sink: %w", err)
		}
		closers = append(closers, sink.Close)
		opts = append(opts, audit.WithSink(sink))
	}
	if cfg.PostgresDSN != "" {
		sink, err := openPostgresSink(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres sink: %w", err)
		}
		opts = append(opts, audit.WithSink(sink))
	}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(audit.KafkaSinkConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("kafka sink: %w", err)
		}
		closers = append(closers, sink.Close)
		opts = append(opts, audit.WithSink(sink))
	}

	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("audit sink close", "error", err)
			}
		}
	}
	return audit.NewLog(opts...), cleanup, nil
}

func openPostgresSink(ctx context.Context, dsn string) (*audit.PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	sink := audit.NewPostgresSink(db)
	if err := sink.Ping(ctx); err != nil {
		return nil, err
	}
	if err := sink.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "JSONL audit log to verify")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(stderr, "verify: -file is required")
		return 2
	}

	entries, err := audit.ReadLogFile(*file)
	if err != nil {
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return 1
	}
	if err := audit.VerifyEntries(entries); err != nil {
		fmt.Fprintf(stderr, "verify: FAIL: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "OK: %d entries, chain intact\n", len(entries))
	return 0
}

// runExport cuts an evidence bundle from a JSONL audit log, writes it
// locally, and optionally archives it to S3.
func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "JSONL audit log to export from")
	out := fs.String("out", "bundle.json", "path for the exported bundle")
	kind := fs.String("kind", "", "restrict the bundle to one entry kind")
	bucket := fs.String("s3-bucket", "", "archive the bundle to this S3 bucket")
	prefix := fs.String("s3-prefix", "credence", "S3 key prefix")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(stderr, "export: -file is required")
		return 2
	}

	entries, err := audit.ReadLogFile(*file)
	if err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}
	trail, err := audit.FromEntries(entries)
	if err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}
	bundle, err := trail.ExportBundle(audit.Filter{Kind: audit.Kind(*kind)})
	if err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Exported bundle %s: %d entries (seq %d-%d) to %s\n",
		bundle.BundleID, bundle.EntryCount, bundle.StartSeq, bundle.EndSeq, *out)

	if *bucket != "" {
		ctx := context.Background()
		archiver, err := audit.NewS3Archiver(ctx, *bucket, *prefix)
		if err != nil {
			fmt.Fprintf(stderr, "export: s3: %v\n", err)
			return 1
		}
		key, err := archiver.ArchiveBundle(ctx, bundle)
		if err != nil {
			fmt.Fprintf(stderr, "export: s3: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Archived to s3://%s/%s\n", *bucket, key)
	}
	return 0
}

func runReplay(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "JSONL audit log to replay")
	profileDir := fs.String("profiles", "profiles", "profile directory")
	profileName := fs.String("profile", "default", "policy profile to replay under")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(stderr, "replay: -file is required")
		return 2
	}

	entries, err := audit.ReadLogFile(*file)
	if err != nil {
		fmt.Fprintf(stderr, "replay: %v\n", err)
		return 1
	}

	policy := governance.DefaultConfig()
	if p, err := config.LoadProfile(*profileDir, *profileName); err == nil {
		policy = p.Policy
	}

	kernel, err := governance.ReplayAuditTrail(entries, policy)
	if err != nil {
		fmt.Fprintf(stderr, "replay: %v\n", err)
		return 1
	}

	snap := kernel.State()
	fmt.Fprintf(stdout, "Replayed %d audit entries\n", len(entries))
	fmt.Fprintf(stdout, "  assumptions: %d\n", len(kernel.Assumptions()))
	fmt.Fprintf(stdout, "  actions:     %d\n", len(kernel.Actions()))
	fmt.Fprintf(stdout, "  state:       %s (failure rate %.2f over %d samples)\n",
		snap.State, snap.FailureRate, snap.Samples)
	return 0
}
