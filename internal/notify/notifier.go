// Package notify delivers attempt outcome notifications to a webhook.
package notify

import (
	"context"
	"sync"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/util"
)

// AttemptEvent describes a terminal attempt outcome.
type AttemptEvent struct {
	AttemptID string
	UserID    string
	ItemID    string
	Category  string
	Score     *int
	Feedback  string
	AudioURL  string
	Step      string // failed step, empty when finalized
	Error     string
}

// AttemptNotifier posts attempt outcomes in the background.
// A nil *AttemptNotifier or one without a URL does nothing.
type AttemptNotifier struct {
	webhookURL string
	wg         sync.WaitGroup
}

// NewAttemptNotifier returns a notifier for webhookURL.
func NewAttemptNotifier(webhookURL string) *AttemptNotifier {
	return &AttemptNotifier{webhookURL: webhookURL}
}

// Enabled reports whether notifications will be sent.
func (n *AttemptNotifier) Enabled() bool {
	return n != nil && util.IsConfigured(n.webhookURL)
}

// Finalized notifies that an attempt was graded.
func (n *AttemptNotifier) Finalized(ev AttemptEvent) {
	n.send(EventAttemptFinalized, ev)
}

// Failed notifies that a pipeline step failed for an attempt.
func (n *AttemptNotifier) Failed(ev AttemptEvent) {
	n.send(EventAttemptFailed, ev)
}

// Wait blocks until all in-flight notifications have been delivered.
func (n *AttemptNotifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}

func (n *AttemptNotifier) send(event string, ev AttemptEvent) {
	if !n.Enabled() {
		return
	}
	payload := &WebhookPayload{
		Event:     event,
		AttemptID: ev.AttemptID,
		UserID:    ev.UserID,
		ItemID:    ev.ItemID,
		Category:  ev.Category,
		Score:     ev.Score,
		Feedback:  ev.Feedback,
		AudioURL:  ev.AudioURL,
		Step:      ev.Step,
		Error:     ev.Error,
		Timestamp: timestampUTC(),
	}

	n.wg.Go(func() {
		util.LogNotifyResult(
			func() error { return sendWebhook(context.Background(), n.webhookURL, payload) },
			"Attempt webhook", ev.AttemptID,
		)
	})
}
