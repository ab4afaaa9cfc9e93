package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "titledeed/internal/jwt_token"
	"titledeed/internal/platform/middleware"
)

var txA = "0x" + strings.Repeat("cd", 32)

func execute(t *testing.T, srvURL string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(viper.New())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--server", srvURL, "--token", "tok"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIssuePrintsTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/title-deeds", r.URL.Path)
		_, _ = w.Write([]byte(`{"application_id":42,"deed_number":"0123456789abcdef0123456789abcdef","transaction_hash":"` + txA + `","message":"Title deed created successfully."}`))
	}))
	defer srv.Close()

	out, err := execute(t, srv.URL, "issue", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "DEED NUMBER")
	assert.Contains(t, out, "0123456789abcdef0123456789abcdef")
	assert.Contains(t, out, txA)
}

func TestIssueRejectsBadID(t *testing.T) {
	_, err := execute(t, "http://127.0.0.1:1", "issue", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive integer")
}

func TestAttemptsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "commit_failed", r.URL.Query().Get("state"))
		_, _ = w.Write([]byte(`{"attempts":[{"application_id":42,"state":"commit_failed","retry_scope":"commit_only","transaction_hash":"` + txA + `"}],"count":1}`))
	}))
	defer srv.Close()

	out, err := execute(t, srv.URL, "--json", "attempts", "--state", "commit_failed")
	require.NoError(t, err)
	var attempts []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &attempts))
	require.Len(t, attempts, 1)
	assert.Equal(t, "commit_only", attempts[0]["retry_scope"])
}

func TestAttemptsRejectsUnknownState(t *testing.T) {
	_, err := execute(t, "http://127.0.0.1:1", "attempts", "--state", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown state")
}

func TestCommitFailureSuggestsRetryCommit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"commit_failed","error_description":"deed confirmed on ledger but not recorded","retryable":true,"retry_scope":"commit_only","transaction_hash":"` + txA + `"}`))
	}))
	defer srv.Close()

	_, err := execute(t, srv.URL, "issue", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deedctl retry-commit "+txA)
}

func TestUnknownOutcomeSuggestsReconcile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = w.Write([]byte(`{"error":"confirmation_unknown","retryable":true,"retry_scope":"reconcile","transaction_hash":"` + txA + `"}`))
	}))
	defer srv.Close()

	_, err := execute(t, srv.URL, "issue", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deedctl reconcile "+txA)
}

func TestTokenMintsRegistrarToken(t *testing.T) {
	t.Setenv("DEED_JWT_SIGNING_KEY", "cli-test-key")

	out, err := execute(t, "http://127.0.0.1:1", "token", "--subject", "clerk-7")
	require.NoError(t, err)

	claims, err := jwttoken.NewJWTService("cli-test-key", "titledeed", "titledeed-operators").
		ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "clerk-7", claims.Subject)
	assert.Contains(t, claims.Roles, middleware.RoleRegistrar)
}

func TestTokenRequiresSigningKey(t *testing.T) {
	t.Setenv("DEED_JWT_SIGNING_KEY", "")
	_, err := execute(t, "http://127.0.0.1:1", "token")
	require.Error(t, err)
}
