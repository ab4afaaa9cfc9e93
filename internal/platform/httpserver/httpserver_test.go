package httpserver

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeStopsOnCancel(t *testing.T) {
	srv := New("127.0.0.1:0", http.NotFoundHandler())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeReportsListenError(t *testing.T) {
	err := Serve(context.Background(), New("256.0.0.1:bad", http.NotFoundHandler()), time.Second)
	assert.Error(t, err)
}

func TestNewLeavesWriteTimeoutUnset(t *testing.T) {
	srv := New(":0", http.NotFoundHandler())
	assert.Zero(t, srv.WriteTimeout)
	assert.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
}
