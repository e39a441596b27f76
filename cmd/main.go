package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	service "github.com/okian/loanlabel/internal/app"
	"github.com/okian/loanlabel/internal/config"
	"github.com/okian/loanlabel/pkg/logger"
	"github.com/okian/loanlabel/pkg/metrics"
)

// Process exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(exitFailed)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx)
	stop()

	_ = logger.Sync()
	os.Exit(code)
}

// run loads configuration, executes one labeling run and reports the outcome
// as a process exit code.
func run(ctx context.Context) int {
	log := logger.Get()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return exitConfig
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	pipeline := service.New(service.WithConfig(cfg), service.WithLogger(log.Named("pipeline")))
	sum, runErr := pipeline.Run(ctx)

	if cfg.MetricsPath != "" {
		if err := metrics.WriteTextfile(cfg.MetricsPath); err != nil {
			log.Warn(ctx, "failed to write metrics textfile", logger.String("path", cfg.MetricsPath), logger.Error(err))
		}
	}

	if runErr != nil {
		log.Error(ctx, "labeling failed", logger.Error(runErr))
		return exitFailed
	}

	report(ctx, log, sum)
	return exitOK
}

func report(ctx context.Context, log logger.Logger, sum *service.Summary) {
	log.Info(ctx, "summary",
		logger.String("run_id", sum.RunID),
		logger.String("out", sum.OutPath),
		logger.Int("files", sum.Files),
		logger.Int64("records", sum.RecordsRead),
		logger.Int64("width_mismatches", sum.WidthMismatches),
		logger.Int64("loans", sum.LoansProcessed),
		logger.Int64("kept", sum.LoansKept),
		logger.Int64("filtered", sum.LoansFiltered),
		logger.Int64("blank_loan_ids", sum.BlankLoanIDs),
		logger.Int64("rows", sum.RowsWritten),
		logger.String("duration", sum.Duration.Round(time.Millisecond).String()),
	)
	for col, n := range sum.CastFailures {
		if n > 0 {
			log.Warn(ctx, "values could not be cast and were written as null",
				logger.String("column", col), logger.Int64("count", n))
		}
	}
}
