package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/presenca/internal/metrics"
	"github.com/saturnino-fabrica-de-software/presenca/internal/ws"
)

// Dispatcher forwards live attendance events to a webhook. Broadcast only
// queues; Run delivers in order and retries failures with exponential
// backoff. Events that do not fit in the queue are dropped.
type Dispatcher struct {
	sender  *Sender
	queue   chan EventPayload
	config  Config
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewDispatcher(config Config, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}

	return &Dispatcher{
		sender:  NewSender(config),
		queue:   make(chan EventPayload, config.QueueSize),
		config:  config,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

func (d *Dispatcher) Broadcast(eventType ws.EventType, data interface{}) {
	event := EventPayload{
		ID:        uuid.New(),
		Type:      eventType,
		Data:      data,
		Timestamp: d.now().UTC(),
	}

	select {
	case d.queue <- event:
	default:
		d.metrics.IncrementWebhook("dropped")
		d.logger.Warn("webhook queue full, event dropped",
			slog.String("event", string(eventType)),
		)
	}
}

// Run delivers queued events until ctx is done
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("webhook dispatcher started", slog.String("url", d.config.URL))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("webhook dispatcher stopped", slog.Int("pending", len(d.queue)))
			return
		case event := <-d.queue:
			d.deliver(ctx, event)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event EventPayload) {
	for attempt := 1; ; attempt++ {
		err := d.sender.Send(ctx, event)
		if err == nil {
			d.metrics.IncrementWebhook("delivered")
			return
		}

		if attempt >= d.config.MaxAttempts || ctx.Err() != nil {
			d.metrics.IncrementWebhook("failed")
			d.logger.Warn("webhook delivery failed",
				slog.String("delivery_id", event.ID.String()),
				slog.String("event", string(event.Type)),
				slog.Int("attempts", attempt),
				slog.Any("error", err),
			)
			return
		}

		d.metrics.IncrementWebhook("retried")
		delay := d.config.Backoff * time.Duration(1<<(attempt-1))
		d.logger.Debug("webhook delivery scheduled for retry",
			slog.String("delivery_id", event.ID.String()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.metrics.IncrementWebhook("failed")
			return
		case <-timer.C:
		}
	}
}
