package usage

import (
	"context"
	"log/slog"

	"github.com/relayhq/relay/internal/observability"
)

// Decision is the outcome of a quota check.
type Decision int

const (
	// Allowed permits the provider round-trip.
	Allowed Decision = iota

	// Restricted rejects the round-trip; the caller must not contact the
	// provider.
	Restricted
)

func (d Decision) String() string {
	if d == Restricted {
		return "restricted"
	}
	return "allowed"
}

// Limits holds per-model token-per-window quotas.
type Limits struct {
	// PerModel maps model ID to its window quota. Zero or missing entries
	// fall back to Default.
	PerModel map[string]int64

	// Default applies to models without an explicit quota. Zero disables
	// limiting entirely.
	Default int64
}

// limitFor resolves the quota for a model.
func (l Limits) limitFor(modelID string) int64 {
	if v, ok := l.PerModel[modelID]; ok && v > 0 {
		return v
	}
	return l.Default
}

// Limiter gates provider round-trips on the pair's rolling token usage. It
// only reads usage; write-back belongs to the persistence collaborator.
type Limiter struct {
	reader  WindowReader
	limits  Limits
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewLimiter creates a limiter. A nil logger falls back to slog.Default;
// metrics may be nil.
func NewLimiter(reader WindowReader, limits Limits, logger *slog.Logger, metrics *observability.Metrics) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{reader: reader, limits: limits, logger: logger, metrics: metrics}
}

// Check compares the pair's current window against the model's quota.
// Missing metrics count as zero usage; usage at or above the quota restricts.
// Check must run before every provider round-trip, not once per user-visible
// turn.
func (l *Limiter) Check(ctx context.Context, userID, modelID string) Decision {
	limit := l.limits.limitFor(modelID)
	if limit <= 0 || l.reader == nil {
		return Allowed
	}

	w, ok, err := l.reader.Window(ctx, userID, modelID)
	if err != nil {
		// Unreadable metrics are treated like missing ones.
		l.logger.Warn("usage window read failed, allowing request",
			"user_id", userID,
			"model_id", modelID,
			"error", err)
		return Allowed
	}
	if !ok {
		return Allowed
	}

	if w.Total() >= limit {
		l.logger.Warn("rate limit restricting request",
			"user_id", userID,
			"model_id", modelID,
			"tokens_sent", w.TokensSent,
			"tokens_received", w.TokensReceived,
			"limit", limit)
		if l.metrics != nil {
			l.metrics.RateLimitRestrictions.WithLabelValues(modelID).Inc()
		}
		return Restricted
	}
	return Allowed
}
