// Command rinmon runs one change-detection pass over the tracked RINs.
//
// Usage:
//
//	rinmon                        # one pass with ./config.yaml
//	rinmon -config /etc/rinmon.yaml
//	rinmon -keep 5 -data /var/lib/rinmon
//	rinmon -last                  # print the previous run's journal summary
//
// A missing config file is generated with defaults and an empty tracked
// set. The exit code is 0 even when individual identifiers fail (failures
// are logged); only startup faults exit 1.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danbauman77/reginfo-monitor/monitor"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	dataDir := flag.String("data", "", "override the snapshot storage root")
	keep := flag.Int("keep", -1, "override keep_files (-1 uses the config value)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	last := flag.Bool("last", false, "print the previous run's journal summary and exit")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *dataDir, *keep, *last); err != nil {
		logger.Error("rinmon: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, dataDir string, keep int, last bool) error {
	cfg, err := monitor.LoadConfig(configPath, logger)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDirectory = dataDir
	}
	if keep >= 0 {
		cfg.KeepFiles = &keep
	}

	svc, err := monitor.New(cfg, monitor.WithLogger(logger))
	if err != nil {
		return err
	}
	defer svc.Close()

	if last {
		return printLastRun(ctx, svc)
	}

	if len(cfg.RINs) == 0 {
		logger.Warn("no RINs configured, nothing to monitor", "config", configPath)
	}

	sum, err := svc.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("complete: %d change(s) across %d identifier(s)", sum.Changes, sum.Identifiers)
	if sum.Failures > 0 {
		fmt.Printf(", %d failure(s)", sum.Failures)
	}
	fmt.Println()
	return nil
}

func printLastRun(ctx context.Context, svc *monitor.Service) error {
	j := svc.Journal()
	if j == nil {
		return fmt.Errorf("no journal configured; set journal: in the config file")
	}
	run, ok, err := j.LastRun(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("no runs recorded yet")
		return nil
	}
	started := time.UnixMilli(run.StartedAt).Format(time.RFC3339)
	state := "in flight"
	if run.FinishedAt != nil {
		state = time.UnixMilli(*run.FinishedAt).Format(time.RFC3339)
	}
	fmt.Printf("run %s\n  started:  %s\n  finished: %s\n  identifiers: %d, changes: %d, failures: %d\n",
		run.ID, started, state, run.Identifiers, run.Changes, run.Failures)
	return nil
}
