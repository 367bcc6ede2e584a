package rabbitmq

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"schematic-pipeline/internal/config"
	"schematic-pipeline/internal/domain"
	"schematic-pipeline/internal/domain/model"
	"schematic-pipeline/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

var _ adapter.WorkQueue = (*WorkQueue)(nil)

type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// WorkQueue is a durable AMQP queue consumed with manual acks. Unacked
// deliveries return to the queue when the channel closes, flagged as
// redelivered.
type WorkQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	pub        publisher
	queue      string
	block      time.Duration
	deliveries <-chan amqp.Delivery
	logger     *zerolog.Logger

	pubMu   sync.Mutex
	mu      sync.Mutex
	pending map[uint64]amqp.Delivery
}

// Dial connects and declares the queue. With consume set it also starts
// consuming with a prefetch of cfg.Prefetch unacked deliveries; publish-only
// processes must leave it unset so they never hold deliveries.
func Dial(cfg config.QueueConfig, consume bool, logger *zerolog.Logger) (*WorkQueue, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	q, err := ch.QueueDeclare(cfg.Stream, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Stream, err)
	}
	var deliveries <-chan amqp.Delivery
	if consume {
		if cfg.Prefetch > 0 {
			if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
				ch.Close()
				conn.Close()
				return nil, fmt.Errorf("amqp qos: %w", err)
			}
		}
		deliveries, err = ch.Consume(q.Name, cfg.Consumer, false, false, false, false, nil)
		if err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("amqp consume: %w", err)
		}
	}

	wq := newWorkQueue(ch, q.Name, cfg.BlockTimeout, deliveries, logger)
	wq.conn = conn
	wq.ch = ch
	return wq, nil
}

func newWorkQueue(pub publisher, queue string, block time.Duration, deliveries <-chan amqp.Delivery, logger *zerolog.Logger) *WorkQueue {
	l := logger.With().Str("component", "work_queue").Str("driver", "amqp").Logger()
	return &WorkQueue{
		pub:        pub,
		queue:      queue,
		block:      block,
		deliveries: deliveries,
		logger:     &l,
		pending:    make(map[uint64]amqp.Delivery),
	}
}

func (q *WorkQueue) Publish(ctx context.Context, item model.WorkItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := item.Encode()
	if err != nil {
		return fmt.Errorf("encode work item: %w", err)
	}
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err = q.pub.Publish("", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    item.JobID,
		Body:         b,
	})
	if err != nil {
		return fmt.Errorf("publish work item: %w", err)
	}
	return nil
}

// Receive waits up to the block timeout for the next delivery and returns
// domain.ErrQueueEmpty when none arrived. Once the broker closes the channel
// it returns domain.ErrQueueClosed; the consumer is not re-established.
func (q *WorkQueue) Receive(ctx context.Context) (*model.Delivery, error) {
	var timeout <-chan time.Time
	if q.block > 0 {
		t := time.NewTimer(q.block)
		defer t.Stop()
		timeout = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, domain.ErrQueueEmpty
		case d, ok := <-q.deliveries:
			if !ok {
				return nil, fmt.Errorf("%w: amqp delivery channel closed", domain.ErrQueueClosed)
			}
			item, err := model.DecodeWorkItem(d.Body)
			if err != nil {
				q.logger.Error().Err(err).Uint64("tag", d.DeliveryTag).Msg("dropping malformed work item")
				if nerr := d.Nack(false, false); nerr != nil {
					q.logger.Warn().Err(nerr).Msg("nack of malformed delivery failed")
				}
				continue
			}
			q.mu.Lock()
			q.pending[d.DeliveryTag] = d
			q.mu.Unlock()
			return &model.Delivery{
				ID:          strconv.FormatUint(d.DeliveryTag, 10),
				Item:        item,
				Redelivered: d.Redelivered,
			}, nil
		}
	}
}

func (q *WorkQueue) Ack(_ context.Context, d *model.Delivery) error {
	if d == nil {
		return nil
	}
	tag, err := strconv.ParseUint(d.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: delivery id %q", domain.ErrInvalidArgument, d.ID)
	}
	q.mu.Lock()
	del, ok := q.pending[tag]
	delete(q.pending, tag)
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: delivery %s", domain.ErrNotFound, d.ID)
	}
	if err := del.Ack(false); err != nil {
		return fmt.Errorf("ack %s: %w", d.ID, err)
	}
	return nil
}

// Close stops consuming. Deliveries still pending are requeued by the broker.
func (q *WorkQueue) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
