package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/miradorstack/incident-rca/internal/metrics"
)

// Bounded limits every attempt with a timeout, retries at most Retries times and
// clamps adjustments to ±MaxAdjustment.
type Bounded struct {
	inner         Oracle
	timeout       time.Duration
	retries       int
	maxAdjustment float64
	logger        *slog.Logger
}

// BoundedOptions configures Bounded.
type BoundedOptions struct {
	Timeout       time.Duration
	Retries       int
	MaxAdjustment float64
}

// NewBounded wraps inner. Retries above one are capped at one.
func NewBounded(inner Oracle, opts BoundedOptions, logger *slog.Logger) *Bounded {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Retries > 1 {
		opts.Retries = 1
	}
	if opts.MaxAdjustment <= 0 || opts.MaxAdjustment > 1 {
		opts.MaxAdjustment = 0.2
	}
	return &Bounded{
		inner:         inner,
		timeout:       opts.Timeout,
		retries:       opts.Retries,
		maxAdjustment: opts.MaxAdjustment,
		logger:        logger,
	}
}

// Assess implements Oracle.
func (b *Bounded) Assess(ctx context.Context, req Request) (Response, error) {
	if b.inner == nil {
		return Response{}, errors.New("oracle: not configured")
	}

	var lastErr error
	for attempt := 0; attempt <= b.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		resp, err := b.attempt(ctx, req)
		if err == nil {
			metrics.IncOracleCall(metrics.ResultOK)
			return b.clamp(resp), nil
		}
		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.IncOracleCall(metrics.ResultTimeout)
		} else {
			metrics.IncOracleCall(metrics.ResultError)
		}
		b.logger.Warn("oracle attempt failed", slog.Int("attempt", attempt+1), slog.Any("error", err))
	}
	return Response{}, fmt.Errorf("oracle failed after %d attempt(s): %w", b.retries+1, lastErr)
}

func (b *Bounded) attempt(ctx context.Context, req Request) (Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := b.inner.Assess(attemptCtx, req)
		done <- result{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-attemptCtx.Done():
		return Response{}, attemptCtx.Err()
	}
}

func (b *Bounded) clamp(resp Response) Response {
	out := Response{Commentary: resp.Commentary, Contrastive: resp.Contrastive, Assessments: make([]Assessment, 0, len(resp.Assessments))}
	for _, a := range resp.Assessments {
		if math.IsNaN(a.Adjustment) {
			a.Adjustment = 0
		}
		a.Adjustment = math.Max(-b.maxAdjustment, math.Min(b.maxAdjustment, a.Adjustment))
		out.Assessments = append(out.Assessments, a)
	}
	return out
}
