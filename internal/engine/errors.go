package engine

import (
	"errors"
	"fmt"
	"strings"
)

// IncompleteTimelineError is fatal: the request carried no events.
type IncompleteTimelineError struct {
	IncidentID string
}

func (e *IncompleteTimelineError) Error() string {
	if e.IncidentID == "" {
		return "incomplete timeline: no events provided"
	}
	return fmt.Sprintf("incomplete timeline for incident %s: no events provided", e.IncidentID)
}

// ReasoningOracleError is recoverable and degrades hypotheses to rule-based scores.
type ReasoningOracleError struct {
	Err error
}

func (e *ReasoningOracleError) Error() string {
	return fmt.Sprintf("reasoning oracle: %v", e.Err)
}

func (e *ReasoningOracleError) Unwrap() error { return e.Err }

// SimilarityStoreError is recoverable and degrades the similarity list to empty.
type SimilarityStoreError struct {
	Err error
}

func (e *SimilarityStoreError) Error() string {
	return fmt.Sprintf("similarity store: %v", e.Err)
}

func (e *SimilarityStoreError) Unwrap() error { return e.Err }

// GraphInvariantViolation signals a corrupted causal graph. It is an internal bug
// signal and fails the request.
type GraphInvariantViolation struct {
	Reason string
}

func (e *GraphInvariantViolation) Error() string {
	return "causal graph invariant violated: " + e.Reason
}

// HypothesisNotFoundError is returned when an explanation is requested for an
// ID the analysis did not produce.
type HypothesisNotFoundError struct {
	HypothesisID string
	Available    []string
}

func (e *HypothesisNotFoundError) Error() string {
	return fmt.Sprintf("hypothesis %q not found (available: %s)", e.HypothesisID, strings.Join(e.Available, ", "))
}

// IsHypothesisNotFound reports whether err is or wraps a HypothesisNotFoundError.
func IsHypothesisNotFound(err error) bool {
	var target *HypothesisNotFoundError
	return errors.As(err, &target)
}

// IsIncompleteTimeline reports whether err is or wraps an IncompleteTimelineError.
func IsIncompleteTimeline(err error) bool {
	var target *IncompleteTimelineError
	return errors.As(err, &target)
}

// IsGraphInvariantViolation reports whether err is or wraps a GraphInvariantViolation.
func IsGraphInvariantViolation(err error) bool {
	var target *GraphInvariantViolation
	return errors.As(err, &target)
}
