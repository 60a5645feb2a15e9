package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-escrow/internal/models"
)

// WebhookPublisher posts every escrow event as JSON to a fixed endpoint,
// e.g. a notification provider or the web front end's backend.
type WebhookPublisher struct {
	Endpoint string
	Client   *http.Client
}

func NewWebhookPublisher(endpoint string) *WebhookPublisher {
	return &WebhookPublisher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (p *WebhookPublisher) Publish(ctx context.Context, e models.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", string(e.Type))
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: status %d", p.Endpoint, resp.StatusCode)
	}
	return nil
}
