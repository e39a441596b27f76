package service

import (
	"github.com/okian/loanlabel/internal/config"
	"github.com/okian/loanlabel/pkg/logger"
)

// Option applies a configuration option to the Pipeline.
type Option func(*Pipeline)

// WithConfig sets the run configuration. The Pipeline keeps its own copy.
func WithConfig(cfg *config.Config) Option {
	return func(p *Pipeline) {
		if cfg != nil {
			c := *cfg
			c.SnapshotColumns = append([]string(nil), cfg.SnapshotColumns...)
			p.cfg = c
		}
	}
}

// WithWorkerCount sets the number of reduction workers.
func WithWorkerCount(count int) Option {
	return func(p *Pipeline) {
		if count > 0 {
			p.cfg.WorkerCount = count
		}
	}
}

// WithPartitionCount sets the number of hash partitions.
func WithPartitionCount(count int) Option {
	return func(p *Pipeline) {
		if count > 0 {
			p.cfg.PartitionCount = count
		}
	}
}

// WithSpill selects temp file partitions (true) or in-memory partitions.
func WithSpill(spill bool) Option {
	return func(p *Pipeline) {
		p.cfg.Spill = spill
	}
}

// WithLogger sets a custom logger for the pipeline.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}
