package models

import (
	"time"

	id "titledeed/pkg/domain"
)

// State is the issuance workflow state recorded on an attempt.
type State string

const (
	StateValidating           State = "validating"
	StateSubmitting           State = "submitting"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateCommitting           State = "committing"
	StateCompleted            State = "completed"

	StateRejectedPrecondition State = "rejected_precondition"
	StateSubmissionFailed     State = "submission_failed"
	StateConfirmationFailed   State = "confirmation_failed"
	StateConfirmationUnknown  State = "confirmation_unknown"
	StateCommitFailed         State = "commit_failed"
)

var allStates = map[State]struct{}{
	StateValidating: {}, StateSubmitting: {}, StateAwaitingConfirmation: {}, StateCommitting: {},
	StateCompleted: {}, StateRejectedPrecondition: {}, StateSubmissionFailed: {},
	StateConfirmationFailed: {}, StateConfirmationUnknown: {}, StateCommitFailed: {},
}

// ParseState validates a state name.
func ParseState(s string) (State, bool) {
	_, ok := allStates[State(s)]
	return State(s), ok
}

// IsTerminal reports whether no further automatic transition happens from s.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateRejectedPrecondition, StateSubmissionFailed,
		StateConfirmationFailed, StateConfirmationUnknown, StateCommitFailed:
		return true
	}
	return false
}

// BlocksResubmission reports whether an attempt in this state may already
// have a ledger side effect, so a fresh submission must not be started.
func (s State) BlocksResubmission() bool {
	switch s {
	case StateSubmitting, StateAwaitingConfirmation, StateCommitting,
		StateConfirmationUnknown, StateCommitFailed:
		return true
	}
	return false
}

// RetryScope tells a caller how much of the workflow may be safely retried.
type RetryScope string

const (
	RetryNone       RetryScope = "none"
	RetryWorkflow   RetryScope = "workflow"
	RetryCommitOnly RetryScope = "commit_only"
	RetryReconcile  RetryScope = "reconcile"
)

// ScopeFor returns the retry scope implied by a terminal state.
func ScopeFor(s State) RetryScope {
	switch s {
	case StateSubmissionFailed, StateConfirmationFailed:
		return RetryWorkflow
	case StateCommitFailed:
		return RetryCommitOnly
	case StateConfirmationUnknown:
		return RetryReconcile
	default:
		return RetryNone
	}
}

// Attempt is one row of the issuance journal. It exists so that a ledger
// side effect without a matching relational commit can always be found again.
type Attempt struct {
	ID            id.AttemptID     `json:"id"`
	ApplicationID id.ApplicationID `json:"application_id"`
	DeedNumber    id.DeedNumber    `json:"deed_number"`
	TxHash        id.TxHash        `json:"transaction_hash,omitempty"`
	Nonce         *uint64          `json:"nonce,omitempty"`
	State         State            `json:"state"`
	RetryScope    RetryScope       `json:"retry_scope"`
	LastError     string           `json:"last_error,omitempty"`
	TraceID       string           `json:"trace_id,omitempty"`
	// MetadataDigest is the digest of the payload handed to the ledger; a
	// recovered commit must reproduce it.
	MetadataDigest string    `json:"metadata_digest,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewAttempt starts a journal row. Attempts are only recorded once
// preconditions have passed, so they begin in the submitting state.
func NewAttempt(appID id.ApplicationID, deed id.DeedNumber, traceID string, now time.Time) *Attempt {
	return &Attempt{
		ID:            id.NewAttemptID(),
		ApplicationID: appID,
		DeedNumber:    deed,
		State:         StateSubmitting,
		RetryScope:    RetryNone,
		TraceID:       traceID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Transition moves the attempt to next and records the failure cause, if any.
func (a *Attempt) Transition(next State, cause error, now time.Time) {
	a.State = next
	a.RetryScope = ScopeFor(next)
	if cause != nil {
		a.LastError = cause.Error()
	} else if next == StateCompleted {
		a.LastError = ""
	}
	a.UpdatedAt = now
}
