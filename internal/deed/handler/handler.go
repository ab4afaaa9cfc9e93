// Package handler exposes title deed issuance over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"titledeed/internal/deed/ledger"
	"titledeed/internal/deed/models"
	"titledeed/internal/deed/service"
	"titledeed/internal/platform/metrics"
	"titledeed/internal/platform/middleware"
	id "titledeed/pkg/domain"
	dErrors "titledeed/pkg/domain-errors"
	"titledeed/pkg/platform/httputil"
)

const (
	defaultIssueTimeout    = 3 * time.Minute
	defaultOperatorTimeout = 30 * time.Second
	maxBodyBytes           = 1 << 16
)

// Service defines the issuance operations the handler needs.
type Service interface {
	Issue(ctx context.Context, applicationID id.ApplicationID) (*models.IssuanceResult, error)
	RetryCommit(ctx context.Context, txHash id.TxHash) (*models.IssuanceResult, error)
	Reconcile(ctx context.Context, txHash id.TxHash) (*service.ReconcileResult, error)
	ListAttempts(ctx context.Context, states []models.State, limit int) ([]*models.Attempt, error)
	Attestation(ctx context.Context, deed id.DeedNumber) (*ledger.TitleDeedView, error)
	IssuedDeed(ctx context.Context, applicationID id.ApplicationID) (*models.TitleDeedRecord, id.TxHash, error)
}

// Handler handles title deed endpoints.
type Handler struct {
	svc          Service
	validator    middleware.JWTValidator
	logger       *slog.Logger
	metrics      *metrics.Metrics
	issueTimeout time.Duration
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithIssueTimeout bounds issuance requests. It should exceed the ledger
// confirmation timeout.
func WithIssueTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.issueTimeout = d
		}
	}
}

// New creates a title deed Handler.
func New(svc Service, validator middleware.JWTValidator, opts ...Option) *Handler {
	h := &Handler{
		svc:          svc,
		validator:    validator,
		logger:       slog.New(slog.DiscardHandler),
		issueTimeout: defaultIssueTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the title deed routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.RequestTime)
		r.Use(middleware.ClientMetadata)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.LatencyMiddleware(h.metrics))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(h.issueTimeout))
			r.Get("/api/title-deed", h.handleIssueByQuery)
			r.Post("/api/title-deed", h.handleIssueByQuery)
			r.Post("/v1/title-deeds", h.handleIssue)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultOperatorTimeout))
			r.Get("/v1/title-deeds/{deedNumber}/attestation", h.handleAttestation)
			r.Get("/v1/applications/{applicationID}/title-deed", h.handleIssuedDeed)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultOperatorTimeout))
			r.Use(middleware.RequireRole(h.validator, middleware.RoleRegistrar, h.logger))
			r.Get("/v1/issuances", h.handleListAttempts)
			r.Post("/v1/issuances/{txHash}/reconcile", h.handleReconcile)
			r.Post("/v1/issuances/{txHash}/retry-commit", h.handleRetryCommit)
		})
	})
}

// handleIssueByQuery serves the legacy route: /api/title-deed?application_id=42.
func (h *Handler) handleIssueByQuery(w http.ResponseWriter, r *http.Request) {
	appID, err := id.ParseApplicationID(r.URL.Query().Get("application_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.issue(w, r, appID)
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req IssueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid issue request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	appID, err := req.Validate()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.issue(w, r, appID)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request, appID id.ApplicationID) {
	ctx := r.Context()
	result, err := h.svc.Issue(ctx, appID)
	if err != nil {
		h.logFailure(ctx, "title deed issuance failed", err, "application_id", int64(appID))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIssueResponse(result))
}

func (h *Handler) handleAttestation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deed, err := id.ParseDeedNumber(chi.URLParam(r, "deedNumber"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.svc.Attestation(ctx, deed)
	if err != nil {
		h.logFailure(ctx, "attestation lookup failed", err, "deed_number", deed.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleIssuedDeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, err := id.ParseApplicationID(chi.URLParam(r, "applicationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	deed, txHash, err := h.svc.IssuedDeed(ctx, appID)
	if err != nil {
		h.logFailure(ctx, "title deed lookup failed", err, "application_id", int64(appID))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, IssuedDeedResponse{TitleDeedRecord: deed, TransactionHash: txHash})
}

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	states, err := parseStates(r.URL.Query().Get("state"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a non-negative integer"))
			return
		}
	}
	attempts, err := h.svc.ListAttempts(ctx, states, limit)
	if err != nil {
		h.logFailure(ctx, "list attempts failed", err)
		httputil.WriteError(w, err)
		return
	}
	if attempts == nil {
		attempts = []*models.Attempt{}
	}
	httputil.WriteJSON(w, http.StatusOK, AttemptsResponse{Attempts: attempts, Count: len(attempts)})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txHash, ok := h.txHashParam(w, r)
	if !ok {
		return
	}
	h.logger.InfoContext(ctx, "reconcile requested",
		"tx_hash", txHash.String(),
		"operator", middleware.GetOperator(ctx),
		"request_id", middleware.GetRequestID(ctx),
	)
	res, err := h.svc.Reconcile(ctx, txHash)
	if err != nil {
		h.logFailure(ctx, "reconcile failed", err, "tx_hash", txHash.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleRetryCommit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txHash, ok := h.txHashParam(w, r)
	if !ok {
		return
	}
	h.logger.InfoContext(ctx, "commit retry requested",
		"tx_hash", txHash.String(),
		"operator", middleware.GetOperator(ctx),
		"request_id", middleware.GetRequestID(ctx),
	)
	result, err := h.svc.RetryCommit(ctx, txHash)
	if err != nil {
		h.logFailure(ctx, "commit retry failed", err, "tx_hash", txHash.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIssueResponse(result))
}

func (h *Handler) txHashParam(w http.ResponseWriter, r *http.Request) (id.TxHash, bool) {
	txHash, err := id.ParseTxHash(chi.URLParam(r, "txHash"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return txHash, true
}

// logFailure logs server-side failures at error level and client errors at
// warn, never including the response body.
func (h *Handler) logFailure(ctx context.Context, msg string, err error, attrs ...any) {
	attrs = append(attrs, "request_id", middleware.GetRequestID(ctx), "error", err)
	de, ok := dErrors.As(err)
	if ok && dErrors.ToHTTPStatus(de.Code) < http.StatusInternalServerError {
		h.logger.WarnContext(ctx, msg, attrs...)
		return
	}
	if errors.Is(err, context.Canceled) {
		h.logger.InfoContext(ctx, msg, attrs...)
		return
	}
	h.logger.ErrorContext(ctx, msg, attrs...)
}
