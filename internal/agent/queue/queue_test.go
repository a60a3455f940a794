package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oracle-engine/server/internal/agent/model"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb)
}

func req(order string) model.ReadingRequest {
	return model.ReadingRequest{OrderText: order, Topic: "Career", TargetLength: 8000}
}

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)

	a, err := s.Add(ctx, req("first"))
	require.NoError(t, err)
	b, err := s.Add(ctx, req("second"))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	_, err = s.Add(ctx, req("  "))
	require.Error(t, err)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "first", pending[0].Request.OrderText)

	item, ok, err := s.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.ID, item.ID)
	assert.Equal(t, StatusProcessing, item.Status)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 1, Processing: 1}, st)

	require.NoError(t, s.MarkCompleted(ctx, a.ID, &model.CycleResult{
		Filename:        "Reading_Maria_Career_1.html",
		DeliveryMessage: "ready",
		Usage:           model.UsageRecord{APICalls: 5},
	}))
	require.NoError(t, s.MarkFailed(ctx, b.ID, errors.New("boom")))

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Completed: 1, Failed: 1}, st)

	pending, err = s.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	done, err := s.Completed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, done, 2)
	assert.Equal(t, b.ID, done[0].ID)
	assert.Equal(t, "boom", done[0].Error)
	assert.Equal(t, "Reading_Maria_Career_1.html", done[1].Filename)
	require.NotNil(t, done[1].Usage)
	assert.Equal(t, 5, done[1].Usage.APICalls)
	assert.NotNil(t, done[1].CompletedAt)

	latest, err := s.Completed(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, latest, 1)

	_, ok, err = s.Claim(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrItemNotFound)
}

type fakeRunner struct {
	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeRunner) Run(_ context.Context, r model.ReadingRequest, progress model.ProgressFunc, _ model.ChunkFunc) (*model.CycleResult, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	progress.Notify("working")
	if strings.Contains(r.OrderText, "fail") {
		return nil, errors.New("critic exploded")
	}
	return &model.CycleResult{Draft: "text for " + r.OrderText, Filename: "Reading_" + r.OrderText + ".html"}, nil
}

func TestWorkerProcess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)
	for _, o := range []string{"a", "b", "fail-c", "d", "e"} {
		_, err := s.Add(ctx, req(o))
		require.NoError(t, err)
	}

	runner := &fakeRunner{}
	var (
		mu      sync.Mutex
		written []string
		msgs    int
	)
	w := NewWorker(s, runner, 2).
		OnResult(func(_ context.Context, _ *Item, res *model.CycleResult) error {
			mu.Lock()
			defer mu.Unlock()
			written = append(written, res.Filename)
			return nil
		}).
		OnProgress(func(_ *Item, _ string) {
			mu.Lock()
			defer mu.Unlock()
			msgs++
		})

	report, err := w.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Completed: 4, Failed: 1}, report)
	assert.Len(t, written, 4)
	assert.Equal(t, 5, msgs)
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Completed: 4, Failed: 1}, st)
}

func TestWorkerResultFailureMarksItemFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)
	item, err := s.Add(ctx, req("a"))
	require.NoError(t, err)

	w := NewWorker(s, &fakeRunner{}, 1).OnResult(func(context.Context, *Item, *model.CycleResult) error {
		return errors.New("disk full")
	})
	report, err := w.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	got, err := s.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "disk full")
}
