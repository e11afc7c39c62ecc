// Package notify delivers run completion summaries to external consumers
// over HTTP.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/clinalytics/platform/pkg/common/httpclient"
	"github.com/clinalytics/platform/pkg/common/logger"
	"github.com/clinalytics/platform/pkg/common/models"
)

const retryBaseDelay = 200 * time.Millisecond

// Notifier POSTs run summaries to a webhook. A nil Notifier is a no-op,
// so callers can wire it unconditionally and leave the URL unset.
type Notifier struct {
	url      string
	client   *http.Client
	attempts int
}

type Option func(*Notifier)

// WithClient replaces the default outbound client.
func WithClient(client *http.Client) Option {
	return func(n *Notifier) {
		if client != nil {
			n.client = client
		}
	}
}

// WithClientCredentials authenticates deliveries using OAuth2 client
// credentials fetched from tokenURL.
func WithClientCredentials(ctx context.Context, tokenURL, clientID, clientSecret string) Option {
	return func(n *Notifier) {
		cfg := &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		}
		n.client = cfg.Client(ctx)
	}
}

// NewNotifier returns nil when url is empty.
func NewNotifier(url string, timeout time.Duration, attempts int, opts ...Option) *Notifier {
	if url == "" {
		return nil
	}
	if attempts <= 0 {
		attempts = 1
	}
	n := &Notifier{url: url, client: httpclient.New(timeout), attempts: attempts}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// RunCompleted delivers the summary, retrying failures with backoff.
func (n *Notifier) RunCompleted(ctx context.Context, summary models.RunSummary) error {
	if n == nil {
		return nil
	}
	err := httpclient.Retry(ctx, n.attempts, retryBaseDelay, func() error {
		return httpclient.PostJSON(ctx, n.client, n.url, summary)
	})
	if err != nil {
		return fmt.Errorf("deliver run summary %s: %w", summary.RunID, err)
	}
	logger.Log.WithFields(logrus.Fields{
		"run_id": summary.RunID.String(),
		"status": summary.Status,
		"url":    n.url,
	}).Info("Run summary delivered")
	return nil
}
