package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// DefaultBufferSize is the per-subscriber output buffer of the Bus.
const DefaultBufferSize = 256

// ReportHandler consumes CycleReports from the Bus.
type ReportHandler func(ctx context.Context, r CycleReport) error

// Bus is an in-process pub/sub for CycleReports backed by a watermill
// gochannel.
//
// Reports are JSON-encoded on the wire so observers see exactly what an
// external subscriber would. Handler errors are logged and the message is
// acked; a report is never redelivered. Publishing never waits for a
// subscriber, so delivery order is not tick order: handlers order by
// CycleReport.Tick themselves.
//
// Thread-safety: safe for concurrent use.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewBus creates a Bus. A nil logger means slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            DefaultBufferSize,
				Persistent:                     false,
				BlockPublishUntilSubscriberAck: false,
			},
			watermill.NewSlogLogger(logger),
		),
		logger: logger,
	}
}

// PublishReport publishes r to all current subscribers.
func (b *Bus) PublishReport(ctx context.Context, r CycleReport) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal cycle report %d: %w", r.Tick, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("tick", fmt.Sprintf("%d", r.Tick))
	msg.SetContext(ctx)

	if err := b.pubsub.Publish(TopicCycleReport, msg); err != nil {
		return fmt.Errorf("publish cycle report %d: %w", r.Tick, err)
	}
	return nil
}

// SubscribeReports registers fn under name. fn runs on its own goroutine
// until ctx is cancelled or the Bus is closed. The subscription is active
// when SubscribeReports returns.
func (b *Bus) SubscribeReports(ctx context.Context, name string, fn ReportHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("subscribe %s: bus closed", name)
	}

	messages, err := b.pubsub.Subscribe(ctx, TopicCycleReport)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", name, err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range messages {
			b.handle(ctx, name, msg, fn)
		}
		b.logger.Debug("report subscriber stopped", "subscriber", name)
	}()
	return nil
}

func (b *Bus) handle(ctx context.Context, name string, msg *message.Message, fn ReportHandler) {
	defer msg.Ack()

	var r CycleReport
	if err := json.Unmarshal(msg.Payload, &r); err != nil {
		b.logger.Error("decode cycle report",
			"subscriber", name,
			"message_id", msg.UUID,
			"error", err,
		)
		return
	}
	if err := fn(ctx, r); err != nil {
		b.logger.Warn("cycle report handler failed",
			"subscriber", name,
			"tick", r.Tick,
			"error", err,
		)
	}
}

// Close stops all subscriptions and waits for in-flight handlers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
