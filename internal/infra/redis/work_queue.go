package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"schematic-pipeline/internal/config"
	"schematic-pipeline/internal/domain"
	"schematic-pipeline/internal/domain/model"
	"schematic-pipeline/internal/domain/ports/adapter"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var _ adapter.WorkQueue = (*WorkQueue)(nil)

const payloadField = "payload"

// WorkQueue is a Redis Streams consumer group. Entries stay in the group's
// pending list until acked, and entries idle longer than claimIdle are
// reclaimed by whichever consumer calls Receive next.
type WorkQueue struct {
	cli       *redis.Client
	stream    string
	group     string
	consumer  string
	block     time.Duration
	claimIdle time.Duration
	maxLen    int64
	logger    *zerolog.Logger

	mu        sync.Mutex
	lastClaim time.Time
}

func NewWorkQueue(c *Client, cfg config.QueueConfig, logger *zerolog.Logger) *WorkQueue {
	consumer := cfg.Consumer
	if consumer == "" {
		consumer = DefaultConsumerName()
	}
	l := logger.With().Str("component", "work_queue").Str("consumer", consumer).Logger()
	return &WorkQueue{
		cli:       c.cli,
		stream:    cfg.Stream,
		group:     cfg.Group,
		consumer:  consumer,
		block:     cfg.BlockTimeout,
		claimIdle: cfg.ClaimIdle,
		maxLen:    cfg.MaxLen,
		logger:    &l,
	}
}

// DefaultConsumerName is the hostname plus a random suffix so that restarted
// processes never inherit a dead consumer's pending entries by name.
func DefaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

// EnsureGroup creates the stream and consumer group if missing.
func (q *WorkQueue) EnsureGroup(ctx context.Context) error {
	err := q.cli.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (q *WorkQueue) Publish(ctx context.Context, item model.WorkItem) error {
	b, err := item.Encode()
	if err != nil {
		return fmt.Errorf("encode work item: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{payloadField: string(b)},
	}
	if q.maxLen > 0 {
		args.MaxLen = q.maxLen
		args.Approx = true
	}
	if err := q.cli.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish work item: %w", err)
	}
	return nil
}

// Receive returns the next delivery, preferring stale pending entries over
// new ones. It returns domain.ErrQueueEmpty when the block window elapsed
// without an entry.
func (q *WorkQueue) Receive(ctx context.Context) (*model.Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, redelivered, err := q.next(ctx)
		if err != nil {
			return nil, err
		}

		item, err := decodeMessage(msg)
		if err != nil {
			// poison entries would otherwise be reclaimed forever
			q.logger.Error().Err(err).Str("entry_id", msg.ID).Msg("dropping malformed work item")
			if ackErr := q.ack(ctx, msg.ID); ackErr != nil {
				q.logger.Warn().Err(ackErr).Str("entry_id", msg.ID).Msg("ack of malformed entry failed")
			}
			continue
		}
		return &model.Delivery{ID: msg.ID, Item: item, Redelivered: redelivered}, nil
	}
}

func (q *WorkQueue) Ack(ctx context.Context, d *model.Delivery) error {
	if d == nil {
		return nil
	}
	return q.ack(ctx, d.ID)
}

func (q *WorkQueue) ack(ctx context.Context, id string) error {
	if err := q.cli.XAck(ctx, q.stream, q.group, id).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	if err := q.cli.XDel(ctx, q.stream, id).Err(); err != nil {
		q.logger.Debug().Err(err).Str("entry_id", id).Msg("xdel failed")
	}
	return nil
}

func (q *WorkQueue) next(ctx context.Context) (redis.XMessage, bool, error) {
	if msg, ok, err := q.claimStale(ctx); err != nil {
		q.logger.Warn().Err(err).Msg("reclaiming stale entries failed")
	} else if ok {
		return msg, true, nil
	}

	streams, err := q.cli.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    q.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return redis.XMessage{}, false, domain.ErrQueueEmpty
		}
		if ctx.Err() != nil {
			return redis.XMessage{}, false, ctx.Err()
		}
		return redis.XMessage{}, false, fmt.Errorf("read group: %w", err)
	}
	for _, s := range streams {
		if len(s.Messages) > 0 {
			return s.Messages[0], false, nil
		}
	}
	return redis.XMessage{}, false, domain.ErrQueueEmpty
}

// claimStale runs XAUTOCLAIM at most once per claim interval while the
// pending list is empty of idle entries.
func (q *WorkQueue) claimStale(ctx context.Context) (redis.XMessage, bool, error) {
	if q.claimIdle <= 0 {
		return redis.XMessage{}, false, nil
	}
	q.mu.Lock()
	interval := q.claimIdle / 2
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	due := time.Since(q.lastClaim) >= interval
	if due {
		q.lastClaim = time.Now()
	}
	q.mu.Unlock()
	if !due {
		return redis.XMessage{}, false, nil
	}

	msgs, _, err := q.cli.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return redis.XMessage{}, false, nil
		}
		return redis.XMessage{}, false, err
	}
	if len(msgs) == 0 {
		return redis.XMessage{}, false, nil
	}
	// more may be waiting; check again on the next call
	q.mu.Lock()
	q.lastClaim = time.Time{}
	q.mu.Unlock()
	q.logger.Info().Str("entry_id", msgs[0].ID).Msg("reclaimed stale work item")
	return msgs[0], true, nil
}

func decodeMessage(msg redis.XMessage) (model.WorkItem, error) {
	raw, ok := msg.Values[payloadField]
	if !ok {
		return model.WorkItem{}, fmt.Errorf("%w: entry without %s field", domain.ErrInvalidArgument, payloadField)
	}
	s, ok := raw.(string)
	if !ok {
		return model.WorkItem{}, fmt.Errorf("%w: %s is %T", domain.ErrInvalidArgument, payloadField, raw)
	}
	return model.DecodeWorkItem([]byte(s))
}
