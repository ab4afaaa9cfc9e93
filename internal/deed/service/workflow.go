package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"titledeed/internal/deed/ledger"
	"titledeed/internal/deed/metrics"
	"titledeed/internal/deed/models"
	id "titledeed/pkg/domain"
	dErrors "titledeed/pkg/domain-errors"
	"titledeed/pkg/platform/sentinel"
	"titledeed/pkg/requestcontext"
)

const (
	defaultConfirmationTimeout = 2 * time.Minute
	defaultCommitTimeout       = 10 * time.Second
	defaultDropWindow          = 30 * time.Minute

	journalWrites     = 3
	journalRetryDelay = 50 * time.Millisecond
)

// WorkflowConfig bounds the post-broadcast phases.
type WorkflowConfig struct {
	ConfirmationTimeout time.Duration
	CommitTimeout       time.Duration
	// DropWindow is how long an unseen transaction may stay unknown before
	// reconciliation declares it dropped.
	DropWindow time.Duration
}

func (c WorkflowConfig) withDefaults() WorkflowConfig {
	if c.ConfirmationTimeout <= 0 {
		c.ConfirmationTimeout = defaultConfirmationTimeout
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = defaultCommitTimeout
	}
	if c.DropWindow <= 0 {
		c.DropWindow = defaultDropWindow
	}
	return c
}

// Workflow drives one issuance from validation to commit and records every
// step in the attempt journal.
//
// State machine:
//
//	validating -> submitting -> awaiting_confirmation -> committing -> completed
//	validating -> rejected_precondition
//	submitting -> submission_failed
//	submitting -> awaiting_confirmation (broadcast not acknowledged)
//	awaiting_confirmation -> confirmation_failed | confirmation_unknown
//	committing -> commit_failed
type Workflow struct {
	store   Store
	ledger  Ledger
	ids     DeedNumbers
	signer  *ledger.Signer
	cfg     WorkflowConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type WorkflowOption func(*Workflow)

func WithWorkflowLogger(logger *slog.Logger) WorkflowOption {
	return func(w *Workflow) { w.logger = logger }
}

func WithWorkflowMetrics(m *metrics.Metrics) WorkflowOption {
	return func(w *Workflow) { w.metrics = m }
}

func WithWorkflowConfig(cfg WorkflowConfig) WorkflowOption {
	return func(w *Workflow) { w.cfg = cfg }
}

func WithTracer(t trace.Tracer) WorkflowOption {
	return func(w *Workflow) { w.tracer = t }
}

func NewWorkflow(st Store, l Ledger, ids DeedNumbers, signer *ledger.Signer, opts ...WorkflowOption) (*Workflow, error) {
	if st == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if l == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("deed number generator is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	w := &Workflow{
		store:  st,
		ledger: l,
		ids:    ids,
		signer: signer,
		logger: slog.New(slog.DiscardHandler),
		tracer: otel.Tracer("titledeed/internal/deed/service"),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.cfg = w.cfg.withDefaults()
	return w, nil
}

// Run issues a title deed for applicationID.
func (w *Workflow) Run(ctx context.Context, applicationID id.ApplicationID) (*models.IssuanceResult, error) {
	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "issuance.run", trace.WithAttributes(
		attribute.Int64("application_id", int64(applicationID)),
	))
	defer span.End()

	result, state, err := w.run(ctx, applicationID, traceID(ctx))
	w.metrics.ObserveIssuance(string(state), start)
	span.SetAttributes(attribute.String("issuance.state", string(state)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(state))
	}
	return result, err
}

func (w *Workflow) run(ctx context.Context, applicationID id.ApplicationID, traceRef string) (*models.IssuanceResult, models.State, error) {
	logger := w.logger.With("application_id", int64(applicationID))

	// validating
	app, err := w.store.FetchApplication(ctx, applicationID)
	if err != nil {
		de := classifyPrecondition(err)
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			de = w.alreadyIssued(ctx, applicationID, de)
		}
		logger.InfoContext(ctx, "issuance rejected", "reason", de.Message)
		return nil, models.StateRejectedPrecondition, de
	}
	if err := app.Validate(); err != nil {
		return nil, models.StateRejectedPrecondition, err
	}
	if open, err := w.store.FindOpenAttempt(ctx, applicationID); err == nil {
		return nil, models.StateRejectedPrecondition, inProgress(open)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, models.StateRejectedPrecondition, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check open attempts")
	}

	req := models.DeedRequest{Application: *app, DeedNumber: w.ids.Generate()}
	attempt := models.NewAttempt(applicationID, req.DeedNumber, traceRef, requestcontext.Now(ctx))
	attempt.MetadataDigest = models.MetadataDigest(req)
	if err := w.store.BeginAttempt(ctx, attempt); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			if open, findErr := w.store.FindOpenAttempt(ctx, applicationID); findErr == nil {
				return nil, models.StateRejectedPrecondition, inProgress(open)
			}
			return nil, models.StateRejectedPrecondition, dErrors.Wrap(err, dErrors.CodeConflict, "issuance already in progress for application")
		}
		return nil, models.StateRejectedPrecondition, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record issuance attempt")
	}
	logger = logger.With("deed_number", req.DeedNumber.String(), "attempt_id", attempt.ID.String())

	// submitting
	if err := ctx.Err(); err != nil {
		w.fail(ctx, attempt, models.StateSubmissionFailed, err)
		return nil, attempt.State, withIssuanceDetails(
			dErrors.Wrap(err, dErrors.CodeTimeout, "request cancelled before submission"), attempt, true)
	}
	pending, err := w.submit(ctx, req)
	var unknown *ledger.BroadcastUnknownError
	switch {
	case errors.As(err, &unknown):
		// the transaction may be on the ledger; track it like any broadcast
		pending = unknown.Pending
		logger.WarnContext(ctx, "ledger broadcast not acknowledged; awaiting the transaction",
			"tx_hash", pending.Hash.String(),
			"error", unknown.Err,
		)
	case err != nil:
		de, retryable := classifySubmission(err)
		w.fail(ctx, attempt, models.StateSubmissionFailed, err)
		logger.WarnContext(ctx, "ledger submission failed", "error", err)
		return nil, attempt.State, withIssuanceDetails(de, attempt, retryable)
	}

	// The transaction is on its way; from here the outcome must be recorded
	// even if the caller goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.ConfirmationTimeout+w.cfg.CommitTimeout)
	defer cancel()

	attempt.TxHash = pending.Hash
	nonce := pending.Nonce
	attempt.Nonce = &nonce
	attempt.Transition(models.StateAwaitingConfirmation, nil, requestcontext.Now(ctx))
	journaled := w.journalSubmitted(ctx, attempt, pending, logger)
	logger = logger.With("tx_hash", pending.Hash.String())

	// awaiting_confirmation
	receipt, err := w.confirm(ctx, pending)
	if err != nil {
		state, de := classifyConfirmation(err)
		w.fail(ctx, attempt, state, err)
		logger.WarnContext(ctx, "ledger confirmation failed", "state", state, "error", err)
		return nil, attempt.State, withIssuanceDetails(de, attempt, state == models.StateConfirmationFailed)
	}

	// committing
	result, err := w.commit(ctx, attempt, req, receipt)
	if err != nil {
		return nil, attempt.State, err
	}
	if !journaled {
		// the commit completes attempts by hash, which this row never got
		if err := w.store.MarkState(ctx, attempt); err != nil {
			logger.ErrorContext(ctx, "failed to journal completed attempt", "error", err)
		}
	}
	logger.InfoContext(ctx, "title deed issued", "block_number", receipt.BlockNumber)
	return result, attempt.State, nil
}

func (w *Workflow) submit(ctx context.Context, req models.DeedRequest) (ledger.PendingTx, error) {
	ctx, span := w.tracer.Start(ctx, "issuance.submit")
	defer span.End()
	pending, err := w.ledger.BuildAndSubmit(ctx, ledger.MintTitleDeedCall(req), w.signer)
	if err != nil {
		span.RecordError(err)
		return pending, err
	}
	span.SetAttributes(attribute.String("tx_hash", pending.Hash.String()))
	return pending, nil
}

// journalSubmitted records the broadcast hash and nonce before the
// confirmation wait. When every write fails the hash still reaches the row
// with the next state write, which backfills it.
func (w *Workflow) journalSubmitted(ctx context.Context, attempt *models.Attempt, pending ledger.PendingTx, logger *slog.Logger) bool {
	var err error
	for n := range journalWrites {
		if n > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(time.Duration(n) * journalRetryDelay):
			}
		}
		if err = w.store.MarkSubmitted(ctx, attempt.ID, pending.Hash, pending.Nonce); err == nil {
			return true
		}
	}
	logger.ErrorContext(ctx, "failed to journal broadcast transaction",
		"tx_hash", pending.Hash.String(),
		"nonce", pending.Nonce,
		"error", err,
	)
	return false
}

func (w *Workflow) confirm(ctx context.Context, pending ledger.PendingTx) (models.LedgerReceipt, error) {
	ctx, span := w.tracer.Start(ctx, "issuance.await_confirmation", trace.WithAttributes(
		attribute.String("tx_hash", pending.Hash.String()),
	))
	defer span.End()
	receipt, err := w.ledger.AwaitConfirmation(ctx, pending, w.cfg.ConfirmationTimeout)
	if err != nil {
		span.RecordError(err)
	}
	return receipt, err
}

// commit applies the relational writes for a confirmed receipt. On failure
// the attempt is left in commit_failed with everything needed to retry.
func (w *Workflow) commit(ctx context.Context, attempt *models.Attempt, req models.DeedRequest, receipt models.LedgerReceipt) (*models.IssuanceResult, error) {
	ctx, span := w.tracer.Start(ctx, "issuance.commit")
	defer span.End()

	attempt.Transition(models.StateCommitting, nil, requestcontext.Now(ctx))
	iss, err := models.NewIssuance(req, receipt, requestcontext.Now(ctx))
	if err == nil {
		commitCtx, cancel := context.WithTimeout(ctx, w.cfg.CommitTimeout)
		err = w.store.CommitIssuance(commitCtx, iss)
		cancel()
	}
	if err != nil {
		span.RecordError(err)
		w.metrics.IncrementCommitFailure()
		w.fail(ctx, attempt, models.StateCommitFailed, err)
		w.logger.ErrorContext(ctx, "ledger confirmed but relational commit failed",
			"application_id", int64(attempt.ApplicationID),
			"deed_number", attempt.DeedNumber.String(),
			"tx_hash", receipt.TransactionHash.String(),
			"block_number", receipt.BlockNumber,
			"error", err,
		)
		de := dErrors.Wrap(err, dErrors.CodeCommitFailed,
			"title deed attested on the ledger but not recorded; retry the commit for this transaction").
			WithDetails(map[string]any{"block_number": receipt.BlockNumber})
		return nil, withIssuanceDetails(de, attempt, true)
	}
	attempt.Transition(models.StateCompleted, nil, requestcontext.Now(ctx))
	return &models.IssuanceResult{
		ApplicationID:   attempt.ApplicationID,
		DeedNumber:      attempt.DeedNumber,
		TransactionHash: receipt.TransactionHash,
	}, nil
}

// fail moves attempt to a terminal failure state and journals it. A journal
// write failure is logged; the caller's error takes precedence.
func (w *Workflow) fail(ctx context.Context, attempt *models.Attempt, state models.State, cause error) {
	attempt.Transition(state, cause, requestcontext.Now(ctx))
	if err := w.store.MarkState(context.WithoutCancel(ctx), attempt); err != nil {
		w.logger.ErrorContext(ctx, "failed to journal attempt state",
			"attempt_id", attempt.ID.String(),
			"state", state,
			"tx_hash", attempt.TxHash.String(),
			"error", err,
		)
	}
}

func (w *Workflow) alreadyIssued(ctx context.Context, applicationID id.ApplicationID, de *dErrors.Error) *dErrors.Error {
	deed, txHash, err := w.store.FindDeedByApplication(ctx, applicationID)
	if err != nil {
		return de
	}
	details := map[string]any{
		"application_id": int64(applicationID),
		"deed_number":    deed.DeedNumber.String(),
		"retryable":      false,
		"retry_scope":    string(models.RetryNone),
	}
	if !txHash.IsNil() {
		details["transaction_hash"] = txHash.String()
	}
	return de.WithDetails(details)
}

func inProgress(open *models.Attempt) error {
	return withIssuanceDetails(
		dErrors.New(dErrors.CodeConflict, "issuance already in progress for application"),
		open, false)
}

func traceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return requestcontext.RequestID(ctx)
}

// =============================================================================
// Recovery
// =============================================================================

// ReconcileResult reports what reconciliation found for an attempt.
type ReconcileResult struct {
	Attempt *models.Attempt        `json:"attempt"`
	Outcome ledger.LookupOutcome   `json:"ledger_outcome"`
	Result  *models.IssuanceResult `json:"result,omitempty"`
}

// RetryCommit re-runs only the commit step for a commit_failed attempt after
// re-confirming its receipt on the ledger.
func (w *Workflow) RetryCommit(ctx context.Context, txHash id.TxHash) (*models.IssuanceResult, error) {
	ctx, span := w.tracer.Start(ctx, "issuance.retry_commit", trace.WithAttributes(
		attribute.String("tx_hash", txHash.String()),
	))
	defer span.End()

	attempt, err := w.findAttempt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	switch attempt.State {
	case models.StateCompleted:
		return resultFor(attempt), nil
	case models.StateCommitFailed:
	default:
		return nil, withIssuanceDetails(
			dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeConflict,
				fmt.Sprintf("attempt is %s; only commit_failed attempts can retry the commit", attempt.State)),
			attempt, false)
	}

	receipt, outcome, err := w.ledger.LookupReceipt(ctx, txHash)
	if err != nil {
		return nil, withIssuanceDetails(dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger lookup failed"), attempt, true)
	}
	w.metrics.IncrementReconcile(string(outcome))
	if outcome != ledger.OutcomeConfirmed {
		return nil, withIssuanceDetails(
			dErrors.New(dErrors.CodeConflict, fmt.Sprintf("transaction is %s on the ledger; reconcile instead", outcome)),
			attempt, false)
	}
	return w.commitRecovered(ctx, attempt, receipt)
}

// Reconcile resolves an attempt whose ledger outcome was not observed.
func (w *Workflow) Reconcile(ctx context.Context, txHash id.TxHash) (*ReconcileResult, error) {
	ctx, span := w.tracer.Start(ctx, "issuance.reconcile", trace.WithAttributes(
		attribute.String("tx_hash", txHash.String()),
	))
	defer span.End()

	attempt, err := w.findAttempt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if attempt.State == models.StateCompleted {
		return &ReconcileResult{Attempt: attempt, Outcome: ledger.OutcomeConfirmed, Result: resultFor(attempt)}, nil
	}
	if !attempt.State.BlocksResubmission() {
		return nil, withIssuanceDetails(
			dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeConflict,
				fmt.Sprintf("attempt is %s and has nothing to reconcile", attempt.State)),
			attempt, false)
	}

	receipt, outcome, err := w.ledger.LookupReceipt(ctx, txHash)
	if err != nil {
		return nil, withIssuanceDetails(dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger lookup failed"), attempt, true)
	}
	w.metrics.IncrementReconcile(string(outcome))
	logger := w.logger.With("tx_hash", txHash.String(), "attempt_id", attempt.ID.String(), "outcome", outcome)

	res := &ReconcileResult{Attempt: attempt, Outcome: outcome}
	switch outcome {
	case ledger.OutcomeConfirmed:
		result, err := w.commitRecovered(ctx, attempt, receipt)
		if err != nil {
			return nil, err
		}
		res.Result = result
	case ledger.OutcomeReverted:
		w.fail(ctx, attempt, models.StateConfirmationFailed, &ledger.RevertedError{TxHash: txHash, GasUsed: receipt.GasUsed})
	case ledger.OutcomeUnknown:
		if requestcontext.Now(ctx).Sub(attempt.UpdatedAt) >= w.cfg.DropWindow {
			w.fail(ctx, attempt, models.StateSubmissionFailed, errors.New("transaction dropped by the ledger"))
			// its nonce was never consumed; later broadcasts must reuse it
			w.ledger.ResyncNonce(w.signer)
		}
	case ledger.OutcomePending:
	}
	logger.InfoContext(ctx, "issuance reconciled", "state", attempt.State)
	return res, nil
}

// commitRecovered rebuilds the deed request from the journal and commits it.
// The rebuilt payload must match the digest journaled at broadcast time.
func (w *Workflow) commitRecovered(ctx context.Context, attempt *models.Attempt, receipt models.LedgerReceipt) (*models.IssuanceResult, error) {
	app, err := w.store.FetchApplication(ctx, attempt.ApplicationID)
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		// committed by an earlier retry; make sure it is this attempt's deed
		deed, _, findErr := w.store.FindDeedByApplication(ctx, attempt.ApplicationID)
		if findErr == nil && deed.DeedNumber == attempt.DeedNumber {
			attempt.Transition(models.StateCompleted, nil, requestcontext.Now(ctx))
			if err := w.store.MarkState(ctx, attempt); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to journal attempt state")
			}
			return resultFor(attempt), nil
		}
		return nil, withIssuanceDetails(
			dErrors.Wrap(sentinel.ErrConflict, dErrors.CodeConflict, "application already has a different title deed"),
			attempt, false)
	}
	if err != nil {
		return nil, withIssuanceDetails(classifyPrecondition(err), attempt, true)
	}
	req := models.DeedRequest{Application: *app, DeedNumber: attempt.DeedNumber}
	if attempt.MetadataDigest != "" && models.MetadataDigest(req) != attempt.MetadataDigest {
		w.logger.ErrorContext(ctx, "application changed since its deed was minted",
			"application_id", int64(attempt.ApplicationID),
			"tx_hash", attempt.TxHash.String(),
		)
		return nil, withIssuanceDetails(
			dErrors.New(dErrors.CodeInvariantViolation,
				"application no longer matches the minted title deed; the commit needs manual review"),
			attempt, false)
	}
	return w.commit(ctx, attempt, req, receipt)
}

func (w *Workflow) findAttempt(ctx context.Context, txHash id.TxHash) (*models.Attempt, error) {
	attempt, err := w.store.FindAttemptByTxHash(ctx, txHash)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "no issuance attempt for transaction")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load issuance attempt")
	}
	return attempt, nil
}

func resultFor(a *models.Attempt) *models.IssuanceResult {
	return &models.IssuanceResult{
		ApplicationID:   a.ApplicationID,
		DeedNumber:      a.DeedNumber,
		TransactionHash: a.TxHash,
	}
}
