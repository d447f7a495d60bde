// Package notify implements NotificationSink collaborators that alert an
// operator when the job queue drains to empty: a Discord webhook and a
// Pushover push notification, either of which can be configured
// independently.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/encodis/encodis/internal/log"
	"github.com/encodis/encodis/internal/scheduler"
)

const requestTimeout = 5 * time.Second

// newClient returns a short-timeout client suitable for best-effort
// fire-and-forget notification delivery.
func newClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

// DiscordSink posts a queue-drained summary to a Discord incoming webhook.
type DiscordSink struct {
	WebhookURL string
	client     *http.Client
}

// NewDiscordSink returns a DiscordSink posting to webhookURL.
func NewDiscordSink(webhookURL string) *DiscordSink {
	return &DiscordSink{WebhookURL: webhookURL, client: newClient()}
}

type discordPayload struct {
	Content string `json:"content"`
}

func (s *DiscordSink) NotifyQuiescence(ctx context.Context, summary scheduler.QuiescenceSummary) error {
	if s.WebhookURL == "" {
		return nil
	}
	body, err := json.Marshal(discordPayload{Content: summaryText(summary)})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// PushoverSink sends a push notification via the Pushover API.
type PushoverSink struct {
	APIToken string
	UserKey  string
	client   *http.Client
}

// NewPushoverSink returns a PushoverSink authenticated with apiToken/userKey.
func NewPushoverSink(apiToken, userKey string) *PushoverSink {
	return &PushoverSink{APIToken: apiToken, UserKey: userKey, client: newClient()}
}

var pushoverAPIURL = "https://api.pushover.net/1/messages.json"

func (s *PushoverSink) NotifyQuiescence(ctx context.Context, summary scheduler.QuiescenceSummary) error {
	if s.APIToken == "" || s.UserKey == "" {
		return nil
	}

	form := url.Values{
		"token":   {s.APIToken},
		"user":    {s.UserKey},
		"message": {summaryText(summary)},
		"title":   {"Encoding queue drained"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pushoverAPIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushover: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("pushover: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func summaryText(summary scheduler.QuiescenceSummary) string {
	return fmt.Sprintf("Queue drained: %d completed, %d failed", summary.CompletedCount, summary.FailedCount)
}

// MultiSink fans a single notification out to every configured sink,
// logging (but not failing on) individual delivery errors.
type MultiSink struct {
	Sinks []Sink
}

// Sink is the narrow interface MultiSink fans out to.
type Sink interface {
	NotifyQuiescence(ctx context.Context, summary scheduler.QuiescenceSummary) error
}

func (m *MultiSink) NotifyQuiescence(ctx context.Context, summary scheduler.QuiescenceSummary) error {
	for _, sink := range m.Sinks {
		if err := sink.NotifyQuiescence(ctx, summary); err != nil {
			log.L().Warn().Err(err).Msg("notification sink delivery failed")
		}
	}
	return nil
}

var (
	_ Sink = (*DiscordSink)(nil)
	_ Sink = (*PushoverSink)(nil)
	_ Sink = (*MultiSink)(nil)
)
