package service

import (
	"errors"

	"titledeed/internal/deed/ledger"
	"titledeed/internal/deed/models"
	dErrors "titledeed/pkg/domain-errors"
	"titledeed/pkg/platform/sentinel"
)

// issuanceDetails is the reconciliation payload attached to workflow errors.
type issuanceDetails struct {
	attempt   *models.Attempt
	scope     models.RetryScope
	retryable bool
}

func (d issuanceDetails) toMap() map[string]any {
	out := map[string]any{
		"retryable":   d.retryable,
		"retry_scope": string(d.scope),
	}
	if a := d.attempt; a != nil {
		out["application_id"] = int64(a.ApplicationID)
		if !a.DeedNumber.IsNil() {
			out["deed_number"] = a.DeedNumber.String()
		}
		if !a.TxHash.IsNil() {
			out["transaction_hash"] = a.TxHash.String()
		}
		out["state"] = string(a.State)
	}
	return out
}

func withIssuanceDetails(err *dErrors.Error, attempt *models.Attempt, retryable bool) error {
	scope := models.RetryNone
	if attempt != nil {
		scope = attempt.RetryScope
	}
	return err.WithDetails(issuanceDetails{attempt: attempt, scope: scope, retryable: retryable}.toMap())
}

// classifyPrecondition maps FetchApplication failures.
func classifyPrecondition(err error) *dErrors.Error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "application not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, "title deed already issued for application")
	default:
		var de *dErrors.Error
		if errors.As(err, &de) {
			return de
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load application")
	}
}

// classifySubmission maps a SubmissionError. Connectivity failures are worth
// retrying right away; funding and rejection need an operator first.
func classifySubmission(err error) (*dErrors.Error, bool) {
	var subErr *ledger.SubmissionError
	if !errors.As(err, &subErr) {
		return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger submission failed"), true
	}
	switch subErr.Reason {
	case ledger.ReasonNetworkUnreachable, ledger.ReasonCircuitOpen, ledger.ReasonNonceConflict:
		return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger unavailable: "+string(subErr.Reason)), true
	default:
		return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger rejected the transaction: "+string(subErr.Reason)), false
	}
}

// classifyConfirmation returns the failure state and error for an
// AwaitConfirmation failure.
func classifyConfirmation(err error) (models.State, *dErrors.Error) {
	var reverted *ledger.RevertedError
	if errors.As(err, &reverted) {
		msg := "ledger transaction reverted"
		if reverted.Reason != "" {
			msg += ": " + reverted.Reason
		}
		de := dErrors.Wrap(err, dErrors.CodeLedgerReverted, msg).WithDetails(map[string]any{
			"revert_reason": reverted.Reason,
			"gas_used":      reverted.GasUsed,
		})
		return models.StateConfirmationFailed, de
	}
	return models.StateConfirmationUnknown,
		dErrors.Wrap(err, dErrors.CodeConfirmationUnknown, "ledger confirmation not observed; reconcile by transaction hash")
}
