package usage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubReader struct {
	w   Window
	ok  bool
	err error
}

func (s stubReader) Window(ctx context.Context, userID, modelID string) (Window, bool, error) {
	return s.w, s.ok, s.err
}

func TestLimiterBoundaryRestricts(t *testing.T) {
	cases := []struct {
		name     string
		sent     int64
		received int64
		limit    int64
		want     Decision
	}{
		{"well under", 100, 50, 1000, Allowed},
		{"just under", 899, 100, 1000, Allowed},
		{"exactly at limit", 900, 100, 1000, Restricted},
		{"over limit", 1200, 300, 1000, Restricted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reader := stubReader{w: Window{TokensSent: tc.sent, TokensReceived: tc.received}, ok: true}
			l := NewLimiter(reader, Limits{Default: tc.limit}, discardLogger(), nil)
			if got := l.Check(context.Background(), "u1", "m1"); got != tc.want {
				t.Errorf("Check = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLimiterMissingMetricsAllows(t *testing.T) {
	l := NewLimiter(stubReader{ok: false}, Limits{Default: 10}, discardLogger(), nil)
	if got := l.Check(context.Background(), "u1", "m1"); got != Allowed {
		t.Errorf("Check = %v, want Allowed", got)
	}
}

func TestLimiterReadErrorAllows(t *testing.T) {
	l := NewLimiter(stubReader{err: errors.New("store down")}, Limits{Default: 10}, discardLogger(), nil)
	if got := l.Check(context.Background(), "u1", "m1"); got != Allowed {
		t.Errorf("Check = %v, want Allowed", got)
	}
}

func TestLimiterZeroLimitDisables(t *testing.T) {
	reader := stubReader{w: Window{TokensSent: 1 << 40}, ok: true}
	l := NewLimiter(reader, Limits{}, discardLogger(), nil)
	if got := l.Check(context.Background(), "u1", "m1"); got != Allowed {
		t.Errorf("Check = %v, want Allowed", got)
	}
}

func TestLimiterPerModelOverride(t *testing.T) {
	reader := stubReader{w: Window{TokensSent: 500}, ok: true}
	limits := Limits{Default: 1000, PerModel: map[string]int64{"small": 500}}
	l := NewLimiter(reader, limits, discardLogger(), nil)

	if got := l.Check(context.Background(), "u1", "small"); got != Restricted {
		t.Errorf("small model: Check = %v, want Restricted", got)
	}
	if got := l.Check(context.Background(), "u1", "large"); got != Allowed {
		t.Errorf("large model: Check = %v, want Allowed", got)
	}
}

func TestTrackerWindowRolls(t *testing.T) {
	tr := NewTracker(time.Minute)
	current := time.Unix(1000, 0)
	tr.now = func() time.Time { return current }

	tr.Record("u1", "m1", 100, 20)
	current = current.Add(30 * time.Second)
	tr.Record("u1", "m1", 50, 10)
	tr.Record("u2", "m1", 999, 0)

	w, ok, err := tr.Window(context.Background(), "u1", "m1")
	if err != nil || !ok {
		t.Fatalf("Window: ok=%v err=%v", ok, err)
	}
	if w.TokensSent != 150 || w.TokensReceived != 30 {
		t.Errorf("window = %+v", w)
	}

	// First record ages out of the rolling window.
	current = current.Add(45 * time.Second)
	w, ok, _ = tr.Window(context.Background(), "u1", "m1")
	if !ok || w.TokensSent != 50 || w.TokensReceived != 10 {
		t.Errorf("after roll: ok=%v window=%+v", ok, w)
	}

	// All records age out.
	current = current.Add(2 * time.Minute)
	_, ok, _ = tr.Window(context.Background(), "u1", "m1")
	if ok {
		t.Error("expected no window after expiry")
	}
}
