package models

import (
	"errors"
	"time"
)

// Direction of a sync run.
type Direction string

// Sync directions.
const (
	DirectionPull Direction = "pull"
	DirectionPush Direction = "push"
	DirectionBoth Direction = "both"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionPull || d == DirectionPush || d == DirectionBoth
}

// Pulls reports whether the run includes a pull phase.
func (d Direction) Pulls() bool { return d == DirectionPull || d == DirectionBoth }

// Pushes reports whether the run includes a push phase.
func (d Direction) Pushes() bool { return d == DirectionPush || d == DirectionBoth }

// Outcome summarizes a run for callers.
type Outcome string

// Run outcomes.
const (
	OutcomeNoop    Outcome = "noop"
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// Failure records one item that could not be synced.
type Failure struct {
	ItemID  string    `json:"item_id"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// SyncResult is the report of one sync run.
type SyncResult struct {
	RunID        string     `json:"run_id"`
	Direction    Direction  `json:"direction"`
	Pulled       int        `json:"pulled"`
	Pushed       int        `json:"pushed"`
	Created      int        `json:"created"`
	Updated      int        `json:"updated"`
	Skipped      int        `json:"skipped"`
	Filtered     int        `json:"filtered"`
	Failures     []Failure  `json:"failures"`
	Error        string     `json:"error,omitempty"`
	ErrorKind    ErrorKind  `json:"error_kind,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   time.Time  `json:"finished_at"`
	LastSyncDate *time.Time `json:"last_sync_date,omitempty"`
}

// AddFailure records a per-item failure.
func (r *SyncResult) AddFailure(itemID string, err error) {
	msg := err.Error()
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Body != "" {
		msg = apiErr.Body
	}
	r.Failures = append(r.Failures, Failure{
		ItemID:  itemID,
		Kind:    Classify(err),
		Message: msg,
	})
}

// Abort marks the run as hard-failed.
func (r *SyncResult) Abort(err error) {
	r.Error = err.Error()
	r.ErrorKind = Classify(err)
}

// Changed reports how many items were written on either side.
func (r *SyncResult) Changed() int {
	return r.Created + r.Updated + r.Pushed
}

// Outcome distinguishes nothing happened, full success, partial success and failure.
func (r *SyncResult) Outcome() Outcome {
	switch {
	case r.Error != "":
		return OutcomeFailed
	case len(r.Failures) > 0 && r.Changed() == 0:
		return OutcomeFailed
	case len(r.Failures) > 0:
		return OutcomePartial
	case r.Changed() == 0:
		return OutcomeNoop
	default:
		return OutcomeSuccess
	}
}

// Duration of the run.
func (r *SyncResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
