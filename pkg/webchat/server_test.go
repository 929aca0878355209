package webchat

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewServer_RequiresHandler(t *testing.T) {
	_, err := NewServer(":0", nil)
	require.Error(t, err)
}

func TestServer_RunStopsOnContextCancel(t *testing.T) {
	var bgStopped, closed atomic.Bool
	srv, err := NewServer("127.0.0.1:0", http.NotFoundHandler(),
		WithSignalHandling(false),
		WithBackground(func(ctx context.Context) error {
			<-ctx.Done()
			bgStopped.Store(true)
			return nil
		}),
		WithCloser(func() error {
			closed.Store(true)
			return nil
		}),
	)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:0", srv.HTTPServer().Addr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	require.True(t, bgStopped.Load())
	require.True(t, closed.Load())
}

func TestServer_DrainersRunBeforeClosers(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
	}
	srv, err := NewServer("127.0.0.1:0", http.NotFoundHandler(),
		WithSignalHandling(false),
		WithCloser(func() error {
			record("close store")
			return nil
		}),
		WithDrainer(func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			require.True(t, ok)
			record("drain sessions")
			return nil
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"drain sessions", "close store"}, order)
}
