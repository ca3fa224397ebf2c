package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Sender posts signed event payloads to a single endpoint
type Sender struct {
	url    string
	secret string
	client *http.Client
}

func NewSender(config Config) *Sender {
	return &Sender{
		url:    config.URL,
		secret: config.Secret,
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

func (s *Sender) Send(ctx context.Context, event EventPayload) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderDelivery, event.ID.String())
	req.Header.Set("User-Agent", "Presenca-Webhook/1.0")
	if s.secret != "" {
		req.Header.Set(HeaderSignature, Sign(s.secret, payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook responded HTTP %d", resp.StatusCode)
	}

	return nil
}
