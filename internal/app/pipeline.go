// Package service wires the labeling pipeline: glossary to schema, raw files
// to partitions, partitions through the worker pool, batches into the table.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/loanlabel/internal/adapters/glossary"
	"github.com/okian/loanlabel/internal/adapters/mq/queue"
	"github.com/okian/loanlabel/internal/adapters/mq/worker"
	"github.com/okian/loanlabel/internal/adapters/partition"
	"github.com/okian/loanlabel/internal/adapters/sink"
	"github.com/okian/loanlabel/internal/adapters/source"
	"github.com/okian/loanlabel/internal/config"
	"github.com/okian/loanlabel/internal/domain/cast"
	"github.com/okian/loanlabel/internal/domain/filter"
	"github.com/okian/loanlabel/internal/domain/labeling"
	"github.com/okian/loanlabel/internal/domain/model"
	"github.com/okian/loanlabel/internal/domain/reduce"
	"github.com/okian/loanlabel/internal/domain/schema"
	"github.com/okian/loanlabel/pkg/logger"
	"github.com/okian/loanlabel/pkg/metrics"
)

// Pipeline runs one batch labeling job. A Pipeline may be run more than once;
// runs do not share state.
type Pipeline struct {
	cfg    config.Config
	logger logger.Logger
}

// New constructs a Pipeline. Options apply in order, so WithConfig should
// come before the single-setting overrides.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{cfg: *config.New()}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = logger.Get().Named("pipeline")
	}

	return p
}

// Config returns the configuration the pipeline runs with.
func (p *Pipeline) Config() config.Config { return p.cfg }

// plan bundles everything derived from the glossary.
type plan struct {
	schema  *schema.Schema
	reducer *reduce.Reducer
	caster  *cast.Caster
	stage   *labeling.Stage
}

// Run executes the pipeline. The returned Summary is filled as far as the run
// got, also when an error is returned. On error or cancellation the output
// table is not published.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sum := newSummary(uuid.NewString(), p.cfg.OutPath)
	log := p.logger.Named(sum.RunID[:8])

	metrics.Reset(
		metrics.WithNamespace(p.cfg.MetricsNamespace),
		metrics.WithHistogramBuckets(p.cfg.MetricsLatencyBuckets),
		metrics.WithConstLabels(map[string]string{"run_id": sum.RunID}),
	)

	defer func() {
		sum.Duration = time.Since(start)
		metrics.RecordRunDuration(sum.Duration.Seconds())
	}()

	log.Info(ctx, "starting labeling run",
		logger.String("run_id", sum.RunID),
		logger.String("raw_dir", p.cfg.RawDir),
		logger.String("glossary", p.cfg.GlossaryPath),
		logger.String("out", p.cfg.OutPath),
	)

	pl, err := p.derive(ctx, log, sum)
	if err != nil {
		return sum, err
	}

	store, err := p.newStore(ctx, log, pl.reducer.LoanIDIndex())
	if err != nil {
		return sum, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Warn(ctx, "partition store cleanup failed", logger.Error(cerr))
		}
	}()

	if err := p.ingest(ctx, log, pl, store, sum); err != nil {
		return sum, err
	}

	out, err := sink.NewParquetSink(p.cfg.OutPath, pl.caster.Plan().Columns(),
		sink.WithCompression(p.cfg.Compression),
		sink.WithBatchSize(p.cfg.BatchSize),
	)
	if err != nil {
		return sum, fmt.Errorf("open output: %w", err)
	}

	log.Info(ctx, "reducing loans",
		logger.Int("partitions", store.Partitions()),
		logger.Int("workers", p.cfg.WorkerCount),
	)
	stats, err := p.reduce(ctx, log, pl, store, out)
	sum.absorb(stats)
	p.recordStats(stats)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if aerr := out.Abort(); aerr != nil {
			log.Warn(ctx, "discarding partial output failed", logger.Error(aerr))
		}
		metrics.RecordErrorByComponent("pipeline", "run_failed")
		log.Error(ctx, "labeling run failed", logger.Error(err))
		return sum, err
	}

	log.Info(ctx, "saving table", logger.String("path", out.Path()), logger.Int64("rows", out.Rows()))
	if err := out.Close(); err != nil {
		return sum, fmt.Errorf("save output: %w", err)
	}
	sum.RowsWritten = out.Rows()
	metrics.RecordRowsWritten(int(sum.RowsWritten))
	metrics.RecordRunSuccess()

	log.Info(ctx, "labeling run finished",
		logger.Int64("records", sum.RecordsRead),
		logger.Int64("loans", sum.LoansProcessed),
		logger.Int64("kept", sum.LoansKept),
		logger.Int64("filtered", sum.LoansFiltered),
		logger.Int64("blank_loan_ids", sum.BlankLoanIDs),
		logger.Int64("rows", sum.RowsWritten),
		logger.Int64("cast_failures", sum.TotalCastFailures()),
		logger.String("elapsed", time.Since(start).Round(time.Millisecond).String()),
	)

	return sum, nil
}

// derive reads the glossary and builds the schema, reducer, caster and stage.
func (p *Pipeline) derive(ctx context.Context, log logger.Logger, sum *Summary) (*plan, error) {
	entries, err := glossary.Read(ctx, p.cfg.GlossaryPath,
		glossary.WithSheet(p.cfg.GlossarySheet),
		glossary.WithHeaderRows(p.cfg.GlossaryHeaderRows),
		glossary.WithColumns(p.cfg.GlossaryFieldCol, p.cfg.GlossaryFlagCol, p.cfg.GlossaryTypeCol, p.cfg.GlossaryFormatCol),
	)
	if err != nil {
		return nil, err
	}

	s := schema.Derive(entries)
	sum.Columns = s.Len()
	log.Info(ctx, "loaded column names", logger.Int("columns", s.Len()))

	for _, a := range s.Ambiguities() {
		metrics.RecordSchemaAmbiguity(a.Column)
		sum.Ambiguities = append(sum.Ambiguities, a)
	}
	if len(sum.Ambiguities) > 0 {
		log.Warn(ctx, "numeric columns with unrecognized format typed as float",
			logger.Int("count", len(sum.Ambiguities)),
			logger.Any("columns", ambiguityNames(sum.Ambiguities)),
		)
	}
	if dups := s.Duplicates(); len(dups) > 0 {
		log.Warn(ctx, "glossary repeats field names; first occurrence wins",
			logger.Any("columns", dups))
	}

	r, missing, err := reduce.New(s, reduce.Columns{
		LoanID:      p.cfg.LoanIDColumn,
		Period:      p.cfg.PeriodColumn,
		LoanAge:     p.cfg.LoanAgeColumn,
		Delinquency: p.cfg.DelinquencyColumn,
	}, p.cfg.SnapshotColumns)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaIncomplete, err)
	}
	sum.DroppedColumns = missing
	if len(missing) > 0 {
		log.Warn(ctx, "snapshot columns not in glossary were dropped", logger.Any("columns", missing))
	}

	outPlan := cast.NewPlan(s, p.cfg.LoanIDColumn, p.cfg.IncludeLoanID, r.SnapshotColumns())
	c := cast.New(outPlan)

	return &plan{
		schema:  s,
		reducer: r,
		caster:  c,
		stage:   labeling.New(r, c, filter.New(outPlan), r.LoanIDIndex()),
	}, nil
}

func (p *Pipeline) newStore(ctx context.Context, log logger.Logger, keyIndex int) (partition.Store, error) {
	if !p.cfg.Spill {
		return partition.NewMemoryStore(p.cfg.PartitionCount, keyIndex), nil
	}
	s, err := partition.NewSpillStore(p.cfg.TmpDir, p.cfg.PartitionCount, keyIndex)
	if err != nil {
		return nil, fmt.Errorf("partition store: %w", err)
	}
	log.Debug(ctx, "spilling partitions", logger.String("dir", s.Dir()))
	return s, nil
}

// ingest streams every raw record into the partition store and seals it.
func (p *Pipeline) ingest(ctx context.Context, log logger.Logger, pl *plan, store partition.Store, sum *Summary) error {
	src, err := source.New(p.cfg.RawDir,
		source.WithGlob(p.cfg.RawGlob),
		source.WithDelimiter(p.cfg.DelimiterRune()),
		source.WithEncoding(p.cfg.Encoding),
		source.WithLogger(log.Named("source")),
	)
	if err != nil {
		return err
	}

	log.Info(ctx, "grouping records by loan", logger.Bool("spill", p.cfg.Spill))
	counts, err := src.Stream(ctx, pl.schema.Len(), store.Add)
	sum.Files = counts.Files
	sum.RecordsRead = counts.Records
	sum.WidthMismatches = counts.WidthMismatches
	if err != nil {
		return err
	}
	if counts.Records == 0 {
		return fmt.Errorf("%w in %s", ErrNoRecords, p.cfg.RawDir)
	}

	if err := store.Seal(); err != nil {
		return fmt.Errorf("seal partitions: %w", err)
	}
	log.Info(ctx, "records grouped",
		logger.Int("files", counts.Files),
		logger.Int64("records", counts.Records),
	)
	return nil
}

// reduce fans partitions out to the worker pool and funnels batches into a
// single writer. It returns the merged stats of every batch written.
func (p *Pipeline) reduce(ctx context.Context, log logger.Logger, pl *plan, store partition.Store, out *sink.ParquetSink) (model.Stats, error) {
	stats := model.NewStats()

	capacity := max(p.cfg.QueueSize, 1)
	q := queue.NewInMemoryQueue(queue.WithCapacity(capacity))

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan model.Batch, max(p.cfg.WorkerCount, 1))
	emit := worker.EmitterFunc(func(ctx context.Context, b model.Batch) error {
		select {
		case batches <- b:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	pool := worker.NewPool(p.cfg.WorkerCount, q, store, pl.stage, emit)
	pool.Start(gctx)

	// Producer: one job per non-empty partition.
	g.Go(func() error {
		defer func() { _ = q.Close() }()
		for part := 0; part < store.Partitions(); part++ {
			n := store.Len(part)
			if n == 0 {
				continue
			}
			if err := q.EnqueueWait(gctx, queue.Job{Partition: part, Records: n}); err != nil {
				return fmt.Errorf("enqueue partition %d: %w", part, err)
			}
		}
		return nil
	})

	// The batch channel closes once every worker has returned. When the run
	// fails or is cancelled the pool is shut down instead of drained; if a
	// worker outlives the shutdown timeout the channel stays open and the
	// writer leaves on gctx.
	g.Go(func() error {
		select {
		case <-pool.Done():
		case <-gctx.Done():
			if err := pool.Shutdown(context.WithoutCancel(gctx)); err != nil {
				return fmt.Errorf("stop workers: %w", err)
			}
		}
		close(batches)
		return nil
	})

	// Single writer.
	g.Go(func() error {
		done := 0
		for {
			var b model.Batch
			select {
			case <-gctx.Done():
				return gctx.Err()
			case next, ok := <-batches:
				if !ok {
					return nil
				}
				b = next
			}
			if b.Err != nil {
				return b.Err
			}
			if err := out.Write(b.Rows); err != nil {
				return fmt.Errorf("write partition %d: %w", b.Partition, err)
			}
			stats.Merge(b.Stats)
			done++
			log.Debug(gctx, "partition written",
				logger.Int("partition", b.Partition),
				logger.Int("rows", len(b.Rows)),
				logger.Int("done", done),
			)
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = ctx.Err()
	}
	return stats, err
}

func (p *Pipeline) recordStats(s model.Stats) {
	metrics.RecordLoansReduced(int(s.Loans))
	metrics.RecordLoansKept(int(s.Kept))
	metrics.RecordLoansFiltered(int(s.Filtered))
	metrics.RecordBlankLoanIDs(s.BlankLoanIDs)
	for col, n := range s.CastFailures {
		metrics.RecordCastFailures(col, n)
	}
	for col, n := range s.CastMissing {
		metrics.RecordCastMissing(col, n)
	}
}

func ambiguityNames(as []schema.Ambiguity) []string {
	names := make([]string, len(as))
	for i, a := range as {
		names[i] = a.Column
	}
	sort.Strings(names)
	return names
}
