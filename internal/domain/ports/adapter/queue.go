package adapter

import (
	"context"

	"schematic-pipeline/internal/domain/model"
)

// WorkPublisher is the intake side of the work queue.
type WorkPublisher interface {
	Publish(ctx context.Context, item model.WorkItem) error
}

// WorkQueue delivers work items at least once. Receive returns
// domain.ErrQueueEmpty when nothing arrived within its blocking window and
// an error wrapping domain.ErrQueueClosed once it can never deliver again.
type WorkQueue interface {
	WorkPublisher
	Receive(ctx context.Context) (*model.Delivery, error)
	Ack(ctx context.Context, d *model.Delivery) error
}
