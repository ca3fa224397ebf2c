package webhook

import (
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/presenca/internal/ws"
)

const (
	HeaderSignature = "X-Presenca-Signature"
	HeaderEvent     = "X-Presenca-Event"
	HeaderDelivery  = "X-Presenca-Delivery"
)

type Config struct {
	URL    string
	Secret string
	// MaxAttempts includes the first delivery
	MaxAttempts int
	// Backoff is the delay before the first retry. It doubles on each
	// further attempt.
	Backoff   time.Duration
	Timeout   time.Duration
	QueueSize int
}

func DefaultConfig(url, secret string) Config {
	return Config{
		URL:         url,
		Secret:      secret,
		MaxAttempts: 5,
		Backoff:     time.Second,
		Timeout:     10 * time.Second,
		QueueSize:   256,
	}
}

// EventPayload is the JSON body posted to the webhook URL
type EventPayload struct {
	ID        uuid.UUID    `json:"id"`
	Type      ws.EventType `json:"type"`
	Data      interface{}  `json:"data"`
	Timestamp time.Time    `json:"timestamp"`
}
