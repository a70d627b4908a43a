// Package usage provides rolling token-usage tracking and the per-user/model
// quota gate applied before every provider round-trip.
package usage

import (
	"context"
	"sync"
	"time"
)

// Window is the current-window token usage for one (user, model) pair. It is
// read-only to the orchestration core; the persistence collaborator owns the
// write side.
type Window struct {
	UserID         string `json:"user_id"`
	ModelID        string `json:"model_id"`
	TokensSent     int64  `json:"tokens_sent_window"`
	TokensReceived int64  `json:"tokens_received_window"`
}

// Total returns the combined token count charged against the quota.
func (w Window) Total() int64 {
	return w.TokensSent + w.TokensReceived
}

// WindowReader supplies the current usage window for a (user, model) pair.
// ok is false when no metric exists yet, which callers treat as zero usage.
type WindowReader interface {
	Window(ctx context.Context, userID, modelID string) (w Window, ok bool, err error)
}

// record is one usage observation inside the tracker.
type record struct {
	userID   string
	modelID  string
	sent     int64
	received int64
	at       time.Time
}

// Tracker is an in-memory WindowReader for local runs and tests. Production
// deployments read the window from the persistence collaborator instead.
type Tracker struct {
	mu      sync.Mutex
	window  time.Duration
	records []record
	now     func() time.Time
}

// DefaultWindow is the rolling quota window.
const DefaultWindow = time.Minute

// NewTracker creates a tracker with the given rolling window; zero or
// negative selects DefaultWindow.
func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{window: window, now: time.Now}
}

// Record adds a usage observation for the pair.
func (t *Tracker) Record(userID, modelID string, sent, received int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune()
	t.records = append(t.records, record{
		userID:   userID,
		modelID:  modelID,
		sent:     sent,
		received: received,
		at:       t.now(),
	})
}

// Window sums the pair's observations inside the rolling window.
func (t *Tracker) Window(ctx context.Context, userID, modelID string) (Window, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune()
	w := Window{UserID: userID, ModelID: modelID}
	found := false
	for _, r := range t.records {
		if r.userID == userID && r.modelID == modelID {
			w.TokensSent += r.sent
			w.TokensReceived += r.received
			found = true
		}
	}
	return w, found, nil
}

// prune drops observations older than the window. Caller holds the lock.
func (t *Tracker) prune() {
	cutoff := t.now().Add(-t.window)
	kept := t.records[:0]
	for _, r := range t.records {
		if r.at.After(cutoff) {
			kept = append(kept, r)
		}
	}
	t.records = kept
}
