package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow(t *testing.T) {
	t.Run("returns injected time", func(t *testing.T) {
		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		ctx := WithTime(context.Background(), fixed)
		assert.Equal(t, fixed, Now(ctx))
	})

	t.Run("falls back to wall clock", func(t *testing.T) {
		before := time.Now()
		got := Now(context.Background())
		assert.False(t, got.Before(before))
	})
}

func TestAccessors_ZeroValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, Operator(ctx))
	assert.Empty(t, ClientIP(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithOperator(ctx, "registrar-7")
	ctx = WithClientIP(ctx, "10.0.0.1")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "registrar-7", Operator(ctx))
	assert.Equal(t, "10.0.0.1", ClientIP(ctx))
}
