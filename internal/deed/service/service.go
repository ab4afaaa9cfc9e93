// Package service issues title deeds: it runs the issuance workflow for an
// application, collapses concurrent requests for the same application and
// exposes the recovery operations used by registrars.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"titledeed/internal/deed/ledger"
	"titledeed/internal/deed/metrics"
	"titledeed/internal/deed/models"
	"titledeed/internal/deed/store"
	id "titledeed/pkg/domain"
	dErrors "titledeed/pkg/domain-errors"
	"titledeed/pkg/platform/sentinel"
)

type Service struct {
	workflow *Workflow
	store    Store
	ledger   Ledger
	lease    Lease
	leaseTTL time.Duration
	flights  singleflight.Group
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLease enables the cross-instance lease. ttl should cover a full
// workflow run; it defaults to the workflow's post-broadcast budget plus a
// margin.
func WithLease(lease Lease, ttl time.Duration) Option {
	return func(s *Service) {
		s.lease = lease
		s.leaseTTL = ttl
	}
}

func New(workflow *Workflow, opts ...Option) (*Service, error) {
	if workflow == nil {
		return nil, fmt.Errorf("issuance workflow is required")
	}
	s := &Service{
		workflow: workflow,
		store:    workflow.store,
		ledger:   workflow.ledger,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.leaseTTL <= 0 {
		cfg := workflow.cfg
		s.leaseTTL = cfg.ConfirmationTimeout + cfg.CommitTimeout + time.Minute
	}
	return s, nil
}

// Issue runs the issuance workflow for applicationID. Concurrent calls for
// the same application in this process share one run and one result. The
// shared run keeps the starting caller's deadline but not its cancellation,
// so one caller hanging up does not fail the others.
func (s *Service) Issue(ctx context.Context, applicationID id.ApplicationID) (*models.IssuanceResult, error) {
	if applicationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "application_id is required")
	}
	v, err, shared := s.flights.Do(applicationID.String(), func() (any, error) {
		runCtx, cancel := flightContext(ctx)
		defer cancel()
		return s.issueExclusive(runCtx, applicationID)
	})
	if shared {
		s.metrics.IncrementCollapsed()
	}
	if err != nil {
		return nil, err
	}
	return v.(*models.IssuanceResult), nil
}

func flightContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return context.WithCancel(detached)
}

func (s *Service) issueExclusive(ctx context.Context, applicationID id.ApplicationID) (*models.IssuanceResult, error) {
	if s.lease != nil {
		release, err := s.lease.Acquire(ctx, applicationID.String(), s.leaseTTL)
		if errors.Is(err, store.ErrLeaseHeld) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "issuance already in progress for application").
				WithDetails(map[string]any{
					"application_id": int64(applicationID),
					"retryable":      false,
					"retry_scope":    string(models.RetryNone),
				})
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to acquire issuance lease")
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "failed to release issuance lease",
					"application_id", int64(applicationID),
					"error", err,
				)
			}
		}()
	}
	return s.workflow.Run(ctx, applicationID)
}

// RetryCommit re-applies the relational commit for a confirmed transaction.
func (s *Service) RetryCommit(ctx context.Context, txHash id.TxHash) (*models.IssuanceResult, error) {
	return s.workflow.RetryCommit(ctx, txHash)
}

// Reconcile resolves an attempt left in an ambiguous state.
func (s *Service) Reconcile(ctx context.Context, txHash id.TxHash) (*ReconcileResult, error) {
	return s.workflow.Reconcile(ctx, txHash)
}

// ListAttempts returns journal rows in the given states, most recent first.
func (s *Service) ListAttempts(ctx context.Context, states []models.State, limit int) ([]*models.Attempt, error) {
	attempts, err := s.store.ListAttempts(ctx, states, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list issuance attempts")
	}
	return attempts, nil
}

// Attestation reads the on-ledger record for a deed number.
func (s *Service) Attestation(ctx context.Context, deed id.DeedNumber) (*ledger.TitleDeedView, error) {
	view, err := s.ledger.GetTitleDeed(ctx, deed)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "failed to read title deed from the ledger")
	}
	return view, nil
}

// IssuedDeed returns the committed deed for an application.
func (s *Service) IssuedDeed(ctx context.Context, applicationID id.ApplicationID) (*models.TitleDeedRecord, id.TxHash, error) {
	deed, txHash, err := s.store.FindDeedByApplication(ctx, applicationID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, "", dErrors.Wrap(err, dErrors.CodeNotFound, "no title deed for application")
	}
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load title deed")
	}
	return deed, txHash, nil
}
