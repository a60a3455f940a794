package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/oracle-engine/server/internal/agent/model"
	errx "github.com/oracle-engine/server/internal/core/error"
	logx "github.com/oracle-engine/server/pkg/logger"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const (
	itemsKey   = "queue:items"
	pendingKey = "queue:pending"
	doneKey    = "queue:done"
)

// ErrItemNotFound is returned for an unknown item id.
var ErrItemNotFound = errors.New("queue item not found")

// Item is one queued reading request and, once processed, its outcome.
type Item struct {
	ID              string               `json:"id"`
	Request         model.ReadingRequest `json:"request"`
	Status          Status               `json:"status"`
	AddedAt         time.Time            `json:"added_at"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
	Filename        string               `json:"filename,omitempty"`
	DeliveryMessage string               `json:"delivery_message,omitempty"`
	Error           string               `json:"error,omitempty"`
	Usage           *model.UsageRecord   `json:"usage,omitempty"`
}

type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Store keeps items in a hash, pending ids in FIFO order and finished ids
// newest first.
type Store struct {
	rdb redis.Cmdable
	now func() time.Time
}

func NewStore(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb, now: time.Now}
}

func (s *Store) Add(ctx context.Context, req model.ReadingRequest) (*Item, error) {
	if strings.TrimSpace(req.OrderText) == "" {
		return nil, fmt.Errorf("queue add: order text is empty")
	}
	item := &Item{
		ID:      uuid.NewString(),
		Request: req,
		Status:  StatusPending,
		AddedAt: s.now().UTC(),
	}
	b, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal queue item: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, itemsKey, item.ID, b)
		pipe.RPush(ctx, pendingKey, item.ID)
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("item_id", item.ID).Msg("failed to enqueue reading")
		return nil, errx.WrapRedis(err)
	}
	return item, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	raw, err := s.rdb.HGet(ctx, itemsKey, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if err != nil {
		return nil, errx.WrapRedis(err)
	}
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("unmarshal queue item %s: %w", id, err)
	}
	return &item, nil
}

// Pending lists waiting items oldest first.
func (s *Store) Pending(ctx context.Context) ([]Item, error) {
	ids, err := s.rdb.LRange(ctx, pendingKey, 0, -1).Result()
	if err != nil {
		return nil, errx.WrapRedis(err)
	}
	return s.load(ctx, ids)
}

// Completed lists the last limit finished items, newest first. Failed items
// are included.
func (s *Store) Completed(ctx context.Context, limit int) ([]Item, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.rdb.LRange(ctx, doneKey, 0, stop).Result()
	if err != nil {
		return nil, errx.WrapRedis(err)
	}
	return s.load(ctx, ids)
}

// Claim pops the oldest pending item and marks it processing. ok is false
// when the queue is empty. A popped id is owned by exactly one caller.
func (s *Store) Claim(ctx context.Context) (*Item, bool, error) {
	id, err := s.rdb.LPop(ctx, pendingKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errx.WrapRedis(err)
	}

	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	item.Status = StatusProcessing
	if err := s.put(ctx, item); err != nil {
		return nil, false, err
	}
	return item, true, nil
}

func (s *Store) MarkCompleted(ctx context.Context, id string, res *model.CycleResult) error {
	return s.finish(ctx, id, func(item *Item) {
		item.Status = StatusCompleted
		item.Error = ""
		if res != nil {
			item.Filename = res.Filename
			item.DeliveryMessage = res.DeliveryMessage
			usage := res.Usage
			item.Usage = &usage
		}
	})
}

func (s *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	return s.finish(ctx, id, func(item *Item) {
		item.Status = StatusFailed
		if cause != nil {
			item.Error = cause.Error()
		}
	})
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.rdb.HVals(ctx, itemsKey).Result()
	if err != nil {
		return Stats{}, errx.WrapRedis(err)
	}
	var st Stats
	for _, row := range rows {
		var item Item
		if err := json.Unmarshal([]byte(row), &item); err != nil {
			continue
		}
		switch item.Status {
		case StatusPending:
			st.Pending++
		case StatusProcessing:
			st.Processing++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		}
	}
	return st, nil
}

func (s *Store) finish(ctx context.Context, id string, mutate func(*Item)) error {
	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	mutate(item)
	at := s.now().UTC()
	item.CompletedAt = &at

	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, itemsKey, item.ID, b)
		pipe.LRem(ctx, pendingKey, 0, item.ID)
		pipe.LPush(ctx, doneKey, item.ID)
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("item_id", id).Msg("failed to finish queue item")
		return errx.WrapRedis(err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, item *Item) error {
	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := s.rdb.HSet(ctx, itemsKey, item.ID, b).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, ids []string) ([]Item, error) {
	if len(ids) == 0 {
		return []Item{}, nil
	}
	rows, err := s.rdb.HMGet(ctx, itemsKey, ids...).Result()
	if err != nil {
		return nil, errx.WrapRedis(err)
	}
	items := make([]Item, 0, len(rows))
	for i, row := range rows {
		str, ok := row.(string)
		if !ok {
			logx.Warn().Str("item_id", ids[i]).Msg("queue index points at a missing item")
			continue
		}
		var item Item
		if err := json.Unmarshal([]byte(str), &item); err != nil {
			logx.Warn().Err(err).Str("item_id", ids[i]).Msg("skipping unreadable queue item")
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
