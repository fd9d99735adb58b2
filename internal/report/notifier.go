package report

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const notifyTimeout = 10 * time.Second

// Notifier posts run summaries to a webhook endpoint. A Notifier with an
// empty URL is valid and drops every message.
type Notifier struct {
	client *resty.Client
	url    string
}

// NewNotifier creates a Notifier for the given webhook URL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		client: resty.New().SetTimeout(notifyTimeout),
		url:    webhookURL,
	}
}

// Send delivers the run summary. Nothing is sent when no new entries were
// recorded or when no webhook is configured; both cases return nil.
func (n *Notifier) Send(ctx context.Context, stats *RunStats) error {
	if n.url == "" || stats.TotalInserted() == 0 {
		return nil
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"content": stats.Summary()}).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("posting run summary: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
