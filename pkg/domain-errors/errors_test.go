package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches inner code through fmt wrapping", func(t *testing.T) {
		inner := New(CodeNotFound, "application not found")
		outer := fmt.Errorf("fetch: %w", Wrap(inner, CodeInternal, "lookup failed"))

		assert.True(t, HasCode(outer, CodeInternal))
		assert.True(t, HasCode(outer, CodeNotFound))
		assert.False(t, HasCode(outer, CodeConflict))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

func TestIs_OutermostOnly(t *testing.T) {
	err := Wrap(New(CodeNotFound, "missing"), CodeInternal, "failed")
	assert.True(t, Is(err, CodeInternal))
	assert.False(t, Is(err, CodeNotFound))
}

func TestWithDetails_DoesNotMutateOriginal(t *testing.T) {
	base := New(CodeCommitFailed, "commit failed")
	detailed := base.WithDetails(map[string]any{"transaction_hash": "0xabc"})

	require.NotNil(t, detailed.Details)
	assert.Equal(t, "0xabc", detailed.Details["transaction_hash"])
	assert.Nil(t, base.Details)
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:          http.StatusBadRequest,
		CodeNotFound:            http.StatusNotFound,
		CodeConflict:            http.StatusConflict,
		CodeLedgerUnavailable:   http.StatusServiceUnavailable,
		CodeLedgerReverted:      http.StatusUnprocessableEntity,
		CodeConfirmationUnknown: http.StatusGatewayTimeout,
		CodeCommitFailed:        http.StatusInternalServerError,
		Code("unknown"):         http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, ToHTTPStatus(code), "code %s", code)
	}
}
