package worker_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/loanlabel/internal/adapters/mq/queue"
	worker "github.com/okian/loanlabel/internal/adapters/mq/worker"
	"github.com/okian/loanlabel/internal/domain/model"
	"github.com/okian/loanlabel/internal/domain/record"
	logging "github.com/okian/loanlabel/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing.
type mockQueue struct {
	jobs chan queue.Job
	once sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{jobs: make(chan queue.Job, 64)}
}

func (mq *mockQueue) Dequeue(context.Context) <-chan queue.Job { return mq.jobs }

func (mq *mockQueue) Close() error {
	mq.once.Do(func() { close(mq.jobs) })
	return nil
}

type mockLoader struct {
	mu     sync.Mutex
	errors map[int]error
}

func (ml *mockLoader) Load(_ context.Context, p int) ([]record.RawRecord, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if err, ok := ml.errors[p]; ok {
		return nil, err
	}
	recs := make([]record.RawRecord, p+1)
	for i := range recs {
		recs[i] = record.New(uint64(i), []string{"L"})
	}
	return recs, nil
}

type countingTransformer struct{}

func (countingTransformer) Transform(p int, recs []record.RawRecord) model.Batch {
	stats := model.NewStats()
	stats.Records = int64(len(recs))
	return model.Batch{Partition: p, Rows: []model.Row{{LoanID: "L"}}, Stats: stats}
}

type collector struct {
	mu      sync.Mutex
	batches []model.Batch
	err     error
}

func (c *collector) Emit(_ context.Context, b model.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
	return c.err
}

func (c *collector) partitions() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.batches))
	for _, b := range c.batches {
		out = append(out, b.Partition)
	}
	sort.Ints(out)
	return out
}

func init() {
	_ = logging.InitWithWriter(io.Discard)
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		q := newMockQueue()
		loader := &mockLoader{errors: map[int]error{}}
		out := &collector{}

		convey.Convey("When creating a worker with custom options", func() {
			w := worker.NewInMemoryWorker(q, loader, countingTransformer{}, out,
				worker.WithName("test-worker"),
				worker.WithLogger(logging.Named("test")),
			)

			convey.Convey("Then it should be created successfully", func() {
				convey.So(w, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When running over a closed queue of jobs", func() {
			w := worker.NewInMemoryWorker(q, loader, countingTransformer{}, out)
			loader.errors[2] = errors.New("disk gone")
			for p := 0; p < 4; p++ {
				q.jobs <- queue.Job{Partition: p}
			}
			_ = q.Close()
			w.Run(context.Background())

			convey.Convey("Then every job should produce one batch", func() {
				convey.So(out.partitions(), convey.ShouldResemble, []int{0, 1, 2, 3})
			})

			convey.Convey("Then a failed load should be emitted with its error", func() {
				for _, b := range out.batches {
					if b.Partition == 2 {
						convey.So(b.Err, convey.ShouldNotBeNil)
						convey.So(b.Err.Error(), convey.ShouldContainSubstring, "disk gone")
						continue
					}
					convey.So(b.Err, convey.ShouldBeNil)
					convey.So(b.Stats.Records, convey.ShouldEqual, int64(b.Partition+1))
				}
			})
		})

		convey.Convey("When shutting down an idle worker", func() {
			w := worker.NewInMemoryWorker(q, loader, countingTransformer{}, out)
			go w.Run(context.Background())

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			err := w.Shutdown(ctx)

			convey.Convey("Then it should stop promptly", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(w.Shutdown(ctx), convey.ShouldBeNil)
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a pool draining the real queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(128))
		out := &collector{}
		pool := worker.NewPool(4, q, &mockLoader{errors: map[int]error{}}, countingTransformer{}, out)
		convey.So(pool.Size(), convey.ShouldEqual, 4)

		convey.Convey("When every partition is enqueued and the queue closed", func() {
			ctx := context.Background()
			pool.Start(ctx)
			for p := 0; p < 50; p++ {
				convey.So(q.EnqueueWait(ctx, queue.Job{Partition: p}), convey.ShouldBeNil)
			}
			_ = q.Close()
			pool.Wait()

			convey.Convey("Then each partition should be emitted exactly once", func() {
				want := make([]int, 50)
				for i := range want {
					want[i] = i
				}
				convey.So(out.partitions(), convey.ShouldResemble, want)
			})

			convey.Convey("Then Done should be closed", func() {
				closed := false
				select {
				case <-pool.Done():
					closed = true
				case <-time.After(time.Second):
				}
				convey.So(closed, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the pool is shut down", func() {
			pool.Start(context.Background())
			err := pool.Shutdown(context.Background())

			convey.Convey("Then the queue should be closed and workers stopped", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
				_, open := <-pool.Done()
				convey.So(open, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the pool is shut down without being started", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			err := pool.Shutdown(ctx)

			convey.Convey("Then waiting for the workers should time out", func() {
				convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When created with a non-positive worker count", func() {
			p := worker.NewPool(0, q, &mockLoader{}, countingTransformer{}, out)

			convey.Convey("Then it should default to one worker per CPU", func() {
				convey.So(p.Size(), convey.ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestEmitterFunc(t *testing.T) {
	var got int
	e := worker.EmitterFunc(func(_ context.Context, b model.Batch) error {
		got = b.Partition
		return nil
	})
	if err := e.Emit(context.Background(), model.Batch{Partition: 9}); err != nil || got != 9 {
		t.Errorf("EmitterFunc did not forward the batch: got %d, err %v", got, err)
	}
}
