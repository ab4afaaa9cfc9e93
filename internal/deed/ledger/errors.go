package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"

	id "titledeed/pkg/domain"
)

// SubmissionReason classifies why a transaction was not accepted.
type SubmissionReason string

const (
	ReasonNetworkUnreachable SubmissionReason = "network_unreachable"
	ReasonInsufficientFunds  SubmissionReason = "insufficient_funds"
	ReasonNonceConflict      SubmissionReason = "nonce_conflict"
	ReasonRejected           SubmissionReason = "rejected"
	ReasonCircuitOpen        SubmissionReason = "circuit_open"
)

// SubmissionError means the ledger did not accept the transaction. No side
// effect is assumed.
type SubmissionError struct {
	Reason SubmissionReason
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Err == nil {
		return "ledger submission failed: " + string(e.Reason)
	}
	return fmt.Sprintf("ledger submission failed (%s): %v", e.Reason, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// BroadcastUnknownError means the signed transaction left this process but
// the node's reply was lost, so it may be in the mempool or already mined.
// Pending carries the hash to reconcile by; the nonce stays reserved.
type BroadcastUnknownError struct {
	Pending PendingTx
	Err     error
}

func (e *BroadcastUnknownError) Error() string {
	return fmt.Sprintf("broadcast of %s not acknowledged: %v", e.Pending.Hash, e.Err)
}

func (e *BroadcastUnknownError) Unwrap() error { return e.Err }

// ErrConfirmationTimeout is matched with errors.Is on a ConfirmationTimeoutError.
var ErrConfirmationTimeout = errors.New("ledger confirmation timed out")

// ConfirmationTimeoutError means the transaction was broadcast but finality
// was not observed in time. The outcome is unknown.
type ConfirmationTimeoutError struct {
	TxHash id.TxHash
	Err    error
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("confirmation of %s not observed: %v", e.TxHash, ErrConfirmationTimeout)
}

func (e *ConfirmationTimeoutError) Is(target error) bool { return target == ErrConfirmationTimeout }

func (e *ConfirmationTimeoutError) Unwrap() error { return e.Err }

// RevertedError means the transaction was included but execution failed.
// The fee was still charged.
type RevertedError struct {
	TxHash  id.TxHash
	Reason  string
	GasUsed uint64
}

func (e *RevertedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transaction %s reverted", e.TxHash)
	}
	return fmt.Sprintf("transaction %s reverted: %s", e.TxHash, e.Reason)
}

// classifySendError maps a broadcast failure to a submission reason. Node
// errors arrive as JSON-RPC strings, so matching is textual.
func classifySendError(err error) SubmissionReason {
	if isNetworkError(err) {
		return ReasonNetworkUnreachable
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return ReasonInsufficientFunds
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "nonce too high"),
		strings.Contains(msg, "replacement transaction underpriced"):
		return ReasonNonceConflict
	default:
		return ReasonRejected
	}
}

// broadcastOutcomeUnknown reports whether a SendTransaction failure may hide
// a delivered transaction. A refused dial never sent anything and a JSON-RPC
// error is the node's verdict; anything that broke after the request was
// written, and a node saying it already holds the hash, is ambiguous.
func broadcastOutcomeUnknown(err error) bool {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction") {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return false
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET):
		return true
	}
	return isNetworkError(err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
