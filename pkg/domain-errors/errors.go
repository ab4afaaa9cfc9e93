// Package domainerrors defines the coded error type shared by services and
// transport. Services classify failures into a Code; handlers translate the
// Code into an HTTP status via ToHTTPStatus without inspecting messages.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code is a stable, client-visible error classification.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"

	// Ledger issuance outcomes.
	CodeLedgerUnavailable   Code = "ledger_unavailable"
	CodeLedgerReverted      Code = "ledger_reverted"
	CodeConfirmationUnknown Code = "confirmation_unknown"
	CodeCommitFailed        Code = "commit_failed"
)

// Error is a coded domain error. Message is safe to show to clients unless the
// code is CodeInternal; Err holds the underlying cause for logs only.
type Error struct {
	Code    Code
	Message string
	Err     error
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error without an underlying cause.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and client-safe message to an underlying cause.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// WithDetails returns a copy of e carrying extra structured fields for the
// response envelope (for example reconciliation identifiers).
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	for k, v := range details {
		cp.Details[k] = v
	}
	return &cp
}

// As extracts the outermost *Error in the chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether any *Error in the chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is reports whether the outermost *Error in the chain carries code.
func Is(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// ToHTTPStatus maps a code to the response status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvariantViolation:
		return http.StatusConflict
	case CodeLedgerReverted:
		return http.StatusUnprocessableEntity
	case CodeLedgerUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout, CodeConfirmationUnknown:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
