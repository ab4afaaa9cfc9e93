package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"titledeed/internal/deed/handler/mocks"
	"titledeed/internal/deed/ledger"
	"titledeed/internal/deed/models"
	"titledeed/internal/deed/service"
	jwttoken "titledeed/internal/jwt_token"
	id "titledeed/pkg/domain"
	dErrors "titledeed/pkg/domain-errors"
	"titledeed/pkg/testutil"
)

const (
	deedA id.DeedNumber = "0123456789abcdef0123456789abcdef"
)

var txA = id.TxHash("0x" + strings.Repeat("ab", 32))

type HandlerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	svc     *mocks.MockService
	jwt     *jwttoken.JWTService
	router  http.Handler
	opToken string
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.svc = mocks.NewMockService(s.ctrl)
	s.jwt = jwttoken.NewJWTService("test-key", "titledeed", "titledeed-operators")

	r := chi.NewRouter()
	New(s.svc, jwttoken.NewJWTServiceAdapter(s.jwt)).Register(r)
	s.router = r

	var err error
	s.opToken, err = s.jwt.GenerateOperatorToken("registrar-1", []string{"registrar"}, time.Hour)
	s.Require().NoError(err)
}

func (s *HandlerSuite) do(req *http.Request) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, req)
}

func issued() *models.IssuanceResult {
	return &models.IssuanceResult{ApplicationID: 42, DeedNumber: deedA, TransactionHash: txA}
}

// =============================================================================
// Issuance
// =============================================================================

func (s *HandlerSuite) TestIssue() {
	s.Run("v1 body", func() {
		s.svc.EXPECT().Issue(gomock.Any(), id.ApplicationID(42)).Return(issued(), nil)

		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/title-deeds", map[string]any{"application_id": 42}))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[IssueResponse](s.T(), rr)
		s.Equal(deedA.String(), resp.DeedNumber)
		s.Equal(txA.String(), resp.TransactionHash)
		s.Equal(issuedMessage, resp.Message)
		s.NotEmpty(rr.Header().Get("X-Request-ID"))
	})

	s.Run("legacy query route", func() {
		for _, method := range []string{http.MethodGet, http.MethodPost} {
			s.svc.EXPECT().Issue(gomock.Any(), id.ApplicationID(42)).Return(issued(), nil)
			rr := s.do(testutil.NewRequest(s.T(), method, "/api/title-deed?application_id=42"))
			testutil.AssertStatus(s.T(), rr, http.StatusOK)
			testutil.AssertJSONContains(s.T(), rr, "transaction_hash", txA.String())
		}
	})

	s.Run("request id is propagated", func() {
		s.svc.EXPECT().Issue(gomock.Any(), id.ApplicationID(42)).Return(issued(), nil)
		req := testutil.NewRequest(s.T(), http.MethodGet, "/api/title-deed?application_id=42")
		req.Header.Set("X-Request-ID", "req-123")
		rr := s.do(req)
		s.Equal("req-123", rr.Header().Get("X-Request-ID"))
	})
}

func (s *HandlerSuite) TestIssueRejectsBadInput() {
	// no Issue expectations: any call fails the test
	cases := []struct {
		name string
		req  *http.Request
		code string
	}{
		{"missing application id", testutil.NewRequest(s.T(), http.MethodGet, "/api/title-deed"), string(dErrors.CodeInvalidInput)},
		{"non-numeric application id", testutil.NewRequest(s.T(), http.MethodGet, "/api/title-deed?application_id=abc"), string(dErrors.CodeInvalidInput)},
		{"malformed body", testutil.NewRequestWithBody(s.T(), http.MethodPost, "/v1/title-deeds", "{"), string(dErrors.CodeBadRequest)},
		{"zero application id", testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/title-deeds", map[string]any{"application_id": 0}), string(dErrors.CodeValidation)},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			rr := s.do(tc.req)
			testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, tc.code)
		})
	}

	s.Run("non-json content type", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/v1/title-deeds", "application_id=42")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := s.do(req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})
}

func (s *HandlerSuite) TestIssueErrorMapping() {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", dErrors.New(dErrors.CodeNotFound, "application not found"), http.StatusNotFound},
		{"already issued", dErrors.New(dErrors.CodeConflict, "title deed already issued for application"), http.StatusConflict},
		{"ledger down", dErrors.New(dErrors.CodeLedgerUnavailable, "ledger unavailable"), http.StatusServiceUnavailable},
		{"reverted", dErrors.New(dErrors.CodeLedgerReverted, "ledger transaction reverted"), http.StatusUnprocessableEntity},
		{"confirmation unknown", dErrors.New(dErrors.CodeConfirmationUnknown, "ledger confirmation not observed"), http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.svc.EXPECT().Issue(gomock.Any(), id.ApplicationID(42)).Return(nil, tc.err)
			rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/title-deeds", map[string]any{"application_id": 42}))
			testutil.AssertStatus(s.T(), rr, tc.status)
		})
	}

	s.Run("commit failure carries reconciliation details", func() {
		err := dErrors.New(dErrors.CodeCommitFailed, "title deed attested on the ledger but not recorded").
			WithDetails(map[string]any{
				"retryable":        true,
				"retry_scope":      string(models.RetryCommitOnly),
				"deed_number":      deedA.String(),
				"transaction_hash": txA.String(),
			})
		s.svc.EXPECT().Issue(gomock.Any(), id.ApplicationID(42)).Return(nil, err)

		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/title-deeds", map[string]any{"application_id": 42}))
		testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
		body := testutil.UnmarshalErrorResponse(s.T(), rr)
		s.Equal(string(dErrors.CodeCommitFailed), body["error"])
		s.Equal(txA.String(), body["transaction_hash"])
		s.Equal(deedA.String(), body["deed_number"])
		s.Equal(true, body["retryable"])
		s.Equal("commit_only", body["retry_scope"])
	})

	s.Run("internal errors hide the description", func() {
		s.svc.EXPECT().Issue(gomock.Any(), id.ApplicationID(42)).
			Return(nil, dErrors.New(dErrors.CodeInternal, "dial tcp 10.0.0.5:5432: password authentication failed"))
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/title-deeds", map[string]any{"application_id": 42}))
		testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
		s.NotContains(rr.Body.String(), "password")
	})
}

func (s *HandlerSuite) TestAttestation() {
	s.svc.EXPECT().Attestation(gomock.Any(), deedA).
		Return(&ledger.TitleDeedView{DeedNumber: deedA, UserID: "7", LandCode: "LC-42"}, nil)

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/v1/title-deeds/"+deedA.String()+"/attestation"))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	testutil.AssertJSONContains(s.T(), rr, "land_code", "LC-42")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/v1/title-deeds/not-a-deed/attestation"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
}

func (s *HandlerSuite) TestIssuedDeed() {
	s.Run("returns the committed deed and its transaction", func() {
		s.svc.EXPECT().IssuedDeed(gomock.Any(), id.ApplicationID(42)).
			Return(&models.TitleDeedRecord{ApplicationID: 42, DeedNumber: deedA, Approved: true}, txA, nil)

		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/v1/applications/42/title-deed"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		testutil.AssertJSONContains(s.T(), rr, "deed_number", deedA.String())
		testutil.AssertJSONContains(s.T(), rr, "transaction_hash", txA.String())
	})

	s.Run("not issued yet", func() {
		s.svc.EXPECT().IssuedDeed(gomock.Any(), id.ApplicationID(43)).
			Return(nil, id.TxHash(""), dErrors.New(dErrors.CodeNotFound, "no title deed for application"))

		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/v1/applications/43/title-deed"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})
}

// =============================================================================
// Operator routes
// =============================================================================

func (s *HandlerSuite) TestOperatorAuth() {
	s.Run("missing token", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/v1/issuances"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
	})

	s.Run("invalid token", func() {
		req := testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodGet, "/v1/issuances"), "garbage")
		rr := s.do(req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
	})

	s.Run("token without registrar role", func() {
		token, err := s.jwt.GenerateOperatorToken("clerk-1", []string{"viewer"}, time.Hour)
		s.Require().NoError(err)
		req := testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodPost, "/v1/issuances/"+txA.String()+"/reconcile"), token)
		rr := s.do(req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, string(dErrors.CodeForbidden))
	})
}

func (s *HandlerSuite) TestListAttempts() {
	s.Run("filters by state", func() {
		attempt := models.NewAttempt(42, deedA, "", time.Now())
		attempt.TxHash = txA
		s.svc.EXPECT().
			ListAttempts(gomock.Any(), []models.State{models.StateCommitFailed, models.StateConfirmationUnknown}, 5).
			Return([]*models.Attempt{attempt}, nil)

		req := testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodGet,
			"/v1/issuances?state=commit_failed,confirmation_unknown&limit=5"), s.opToken)
		rr := s.do(req)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[AttemptsResponse](s.T(), rr)
		s.Equal(1, resp.Count)
		s.Equal(txA, resp.Attempts[0].TxHash)
	})

	s.Run("empty list is an array", func() {
		s.svc.EXPECT().ListAttempts(gomock.Any(), gomock.Nil(), 0).Return(nil, nil)
		rr := s.do(testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodGet, "/v1/issuances"), s.opToken))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.Contains(rr.Body.String(), `"attempts":[]`)
	})

	s.Run("unknown state", func() {
		rr := s.do(testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodGet, "/v1/issuances?state=lost"), s.opToken))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))
	})

	s.Run("bad limit", func() {
		rr := s.do(testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodGet, "/v1/issuances?limit=-1"), s.opToken))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))
	})
}

func (s *HandlerSuite) TestRecoveryRoutes() {
	s.Run("reconcile", func() {
		attempt := models.NewAttempt(42, deedA, "", time.Now())
		attempt.TxHash = txA
		attempt.Transition(models.StateCompleted, nil, time.Now())
		s.svc.EXPECT().Reconcile(gomock.Any(), txA).Return(&service.ReconcileResult{
			Attempt: attempt,
			Outcome: ledger.OutcomeConfirmed,
			Result:  issued(),
		}, nil)

		rr := s.do(testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodPost, "/v1/issuances/"+txA.String()+"/reconcile"), s.opToken))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		testutil.AssertJSONContains(s.T(), rr, "ledger_outcome", "confirmed")
	})

	s.Run("retry commit", func() {
		s.svc.EXPECT().RetryCommit(gomock.Any(), txA).Return(issued(), nil)
		rr := s.do(testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodPost, "/v1/issuances/"+txA.String()+"/retry-commit"), s.opToken))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		testutil.AssertJSONContains(s.T(), rr, "deed_number", deedA.String())
	})

	s.Run("retry commit on the wrong state", func() {
		s.svc.EXPECT().RetryCommit(gomock.Any(), txA).
			Return(nil, dErrors.New(dErrors.CodeConflict, "attempt is confirmation_unknown"))
		rr := s.do(testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodPost, "/v1/issuances/"+txA.String()+"/retry-commit"), s.opToken))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, string(dErrors.CodeConflict))
	})

	s.Run("malformed hash", func() {
		rr := s.do(testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodPost, "/v1/issuances/0x1234/reconcile"), s.opToken))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
	})
}
