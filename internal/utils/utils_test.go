package utils

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	durations := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for _, d := range durations {
		tracker.Observe(d)
	}

	if tracker.Count() != len(durations) {
		t.Fatalf("expected count %d, got %d", len(durations), tracker.Count())
	}
	if p95 := tracker.Percentile(95); p95 < 40*time.Millisecond {
		t.Fatalf("expected percentile >= 40ms, got %v", p95)
	}
	if tracker.Percentile(0) != 10*time.Millisecond || tracker.Percentile(100) != 50*time.Millisecond {
		t.Fatalf("unexpected extremes")
	}
}

func TestLatencyTrackerKeepsMostRecent(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected tracker size 3, got %d", tracker.Count())
	}
	if min := tracker.Percentile(0); min != 8*time.Millisecond {
		t.Fatalf("expected oldest retained sample 8ms, got %v", min)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	if NewLatencyTracker(0).Percentile(95) != 0 {
		t.Fatalf("expected zero percentile without samples")
	}
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp(" 2024-03-01T13:00:00.250+01:00 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 3, 1, 12, 0, 0, 250_000_000, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("got %v, want %v", got, want)
	}
	if _, err := ParseTimestamp(""); err == nil {
		t.Fatalf("expected error for empty value")
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error for garbage")
	}
}

func TestDurationMinutesOrderIndependent(t *testing.T) {
	a := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b := a.Add(90 * time.Second)
	if DurationMinutes(a, b) != 1.5 || DurationMinutes(b, a) != 1.5 {
		t.Fatalf("unexpected durations")
	}
}

func TestAppErrorOp(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("lookup: %w", NewAppError("weaviate.SimilarFingerprints", "graphql request failed", base))
	if Op(err) != "weaviate.SimilarFingerprints" {
		t.Fatalf("unexpected op %q", Op(err))
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected AppError to unwrap to base error")
	}
	if Op(base) != "" {
		t.Fatalf("expected empty op for plain errors")
	}
}

func TestNewLoggerToRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn", true)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("nonsense") != slog.LevelInfo {
		t.Fatalf("unexpected level parsing")
	}
}
