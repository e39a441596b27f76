package main

import (
	"context"
	"flag"
	"os"

	"github.com/okian/loanlabel/internal/synth"
	"github.com/okian/loanlabel/pkg/logger"
)

// Default generation constants.
const (
	defaultLoans       = 1000
	defaultFiles       = 4
	defaultSeed        = 1
	defaultMaxHistory  = 36
	defaultDefaultRate = 0.2
	defaultLateStart   = 0.1
)

func main() {
	var (
		out         = flag.String("out", "data", "Directory to write glossary.xlsx and raw/ into")
		loans       = flag.Int("loans", defaultLoans, "Number of loans to generate")
		files       = flag.Int("files", defaultFiles, "Number of raw files to spread records over")
		seed        = flag.Uint64("seed", defaultSeed, "Random seed; equal seeds give equal output")
		maxHistory  = flag.Int("max-history", defaultMaxHistory, "Longest loan history in months")
		defaultRate = flag.Float64("default-rate", defaultDefaultRate, "Share of loans seriously delinquent within 12 months")
		lateStart   = flag.Float64("late-start", defaultLateStart, "Share of loans first observed at age 12 or later")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Named("synth")

	m, err := synth.Generate(*out, synth.Options{
		Loans:       *loans,
		Files:       *files,
		Seed:        *seed,
		MaxHistory:  *maxHistory,
		DefaultRate: *defaultRate,
		LateStart:   *lateStart,
	})
	if err != nil {
		os.Stderr.WriteString("generation failed: " + err.Error() + "\n")
		os.Exit(1)
	}

	log.Info(context.Background(), "fixtures written",
		logger.String("glossary", m.GlossaryPath),
		logger.String("raw_dir", m.RawDir),
		logger.Int("files", len(m.Files)),
		logger.Int("records", m.Records),
		logger.Int("loans", len(m.Loans)),
		logger.Int("kept", m.Kept()),
	)
}
