package queue

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/oracle-engine/server/internal/agent/model"
	logx "github.com/oracle-engine/server/pkg/logger"
)

// Runner runs one reading cycle; *cycle.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, req model.ReadingRequest, progress model.ProgressFunc, onChunk model.ChunkFunc) (*model.CycleResult, error)
}

// ResultFunc receives every finished reading, for example to write it to
// disk. An error marks the item failed.
type ResultFunc func(ctx context.Context, item *Item, res *model.CycleResult) error

// Report summarises one Process call.
type Report struct {
	Completed int
	Failed    int
}

// Worker drains the pending queue through a Runner with bounded
// concurrency. The runner must be safe for concurrent use when
// concurrency is above one.
type Worker struct {
	store       *Store
	runner      Runner
	onResult    ResultFunc
	progress    func(item *Item, msg string)
	concurrency int
}

func NewWorker(store *Store, runner Runner, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{store: store, runner: runner, concurrency: concurrency}
}

func (w *Worker) OnResult(fn ResultFunc) *Worker {
	w.onResult = fn
	return w
}

func (w *Worker) OnProgress(fn func(item *Item, msg string)) *Worker {
	w.progress = fn
	return w
}

// Process claims pending items until the queue is empty or ctx ends. A
// failing reading marks its item failed and does not stop the others; only
// store errors abort the run.
func (w *Worker) Process(ctx context.Context) (Report, error) {
	var completed, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for {
		if err := gctx.Err(); err != nil {
			break
		}
		item, ok, err := w.store.Claim(gctx)
		if err != nil {
			g.Go(func() error { return err })
			break
		}
		if !ok {
			break
		}

		g.Go(func() error {
			if err := w.handle(gctx, item); err != nil {
				failed.Add(1)
				logx.Warn().Err(err).Str("item_id", item.ID).Msg("Queued reading failed")
				if merr := w.store.MarkFailed(context.WithoutCancel(gctx), item.ID, err); merr != nil {
					return fmt.Errorf("mark %s failed: %w", item.ID, merr)
				}
				return nil
			}
			completed.Add(1)
			return nil
		})
	}

	err := g.Wait()
	return Report{Completed: int(completed.Load()), Failed: int(failed.Load())}, err
}

func (w *Worker) handle(ctx context.Context, item *Item) error {
	logx.Info().Str("item_id", item.ID).Str("topic", item.Request.Topic).Msg("Processing queued reading")

	var progress model.ProgressFunc
	if w.progress != nil {
		progress = func(msg string) { w.progress(item, msg) }
	}

	res, err := w.runner.Run(ctx, item.Request, progress, nil)
	if err != nil {
		return err
	}
	if w.onResult != nil {
		if err := w.onResult(ctx, item, res); err != nil {
			return fmt.Errorf("handle result: %w", err)
		}
	}
	if err := w.store.MarkCompleted(ctx, item.ID, res); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}
