// Package testutil holds request builders and response assertions shared by
// handler, router and CLI tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewJSONRequest encodes body as the request payload. A nil body sends none
// but keeps the JSON content type.
func NewJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	if body == nil {
		return jsonRequest(method, path, nil)
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err, "encode request body")
	return jsonRequest(method, path, raw)
}

// NewRequestWithBody sends raw as-is, for malformed-payload cases.
func NewRequestWithBody(t *testing.T, method, path string, raw string) *http.Request {
	t.Helper()
	return jsonRequest(method, path, []byte(raw))
}

func NewRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, path, nil)
}

func jsonRequest(method, path string, raw []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithBearer authenticates req as an operator.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// UnmarshalResponse decodes a success body into T.
func UnmarshalResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) *T {
	t.Helper()
	out := new(T)
	decode(t, rec, out)
	return out
}

// UnmarshalErrorResponse decodes the error envelope, details included.
func UnmarshalErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	return object(t, rec)
}

func object(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	fields := map[string]any{}
	decode(t, rec, &fields)
	return fields
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"),
		"response is not JSON: %q", rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), "decode response: %s", rec.Body.String())
}

func AssertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	assert.Equal(t, want, rec.Code, "status (body %s)", rec.Body.String())
}

// AssertStatusAndError checks the status and the envelope's "error" code.
func AssertStatusAndError(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	AssertStatus(t, rec, wantStatus)
	assert.Equal(t, wantCode, object(t, rec)["error"], "error code")
}

// AssertJSONContains checks one top-level field of a JSON object body.
func AssertJSONContains(t *testing.T, rec *httptest.ResponseRecorder, key string, want any) {
	t.Helper()
	assert.Equal(t, want, object(t, rec)[key], "field %q", key)
}
