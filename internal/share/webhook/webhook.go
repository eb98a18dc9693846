// Package webhook shares transcripts by POSTing them as JSON to an endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/exiyom/ihear/internal/config"
	"github.com/exiyom/ihear/internal/share"
	"github.com/exiyom/ihear/internal/speech"
)

// Sharer implements share.Sharer over HTTP.
type Sharer struct {
	endpoint string
	token    string
	client   *http.Client
	now      func() time.Time
}

// New creates a webhook sharer from config.
func New(cfg config.WebhookConfig) *Sharer {
	return &Sharer{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   &http.Client{Timeout: 15 * time.Second},
		now:      time.Now,
	}
}

// Name returns the backend identifier.
func (s *Sharer) Name() string { return "webhook" }

// payload is the JSON body delivered to the webhook.
type payload struct {
	Owner    string    `json:"owner"`
	Text     string    `json:"text"`
	Language string    `json:"language"`
	SharedAt time.Time `json:"shared_at"`
}

// Share posts item to the endpoint. A Location header in the response
// becomes the receipt location.
func (s *Sharer) Share(ctx context.Context, item share.Item) (share.Receipt, error) {
	body, err := json.Marshal(payload{
		Owner:    item.Owner,
		Text:     item.Text,
		Language: string(item.Language),
		SharedAt: s.now().UTC(),
	})
	if err != nil {
		return share.Receipt{}, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return share.Receipt{}, speech.Wrap(s.Name(), "share", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return share.Receipt{}, speech.Wrap(s.Name(), "share", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return share.Receipt{}, speech.Wrap(s.Name(), "share", fmt.Errorf("status %d: %s", resp.StatusCode, b))
	}

	slog.Debug("webhook share success", "endpoint", s.endpoint, "status", resp.StatusCode)
	return share.Receipt{Location: resp.Header.Get("Location")}, nil
}
