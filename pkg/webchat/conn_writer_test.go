package webchat

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	mu        sync.Mutex
	writes    [][]byte
	deadlines int
	writeErr  error
	closes    int
}

func (c *stubConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *stubConn) SetWriteDeadline(time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines++
	return nil
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func TestConnWriter_SendAndClose(t *testing.T) {
	conn := &stubConn{}
	w := newConnWriter(conn, time.Second, zerolog.Nop())

	require.NoError(t, w.Send(pongEvent()))
	require.Len(t, conn.writes, 1)
	require.JSONEq(t, `{"type":"pong"}`, string(conn.writes[0]))
	require.Equal(t, 1, conn.deadlines)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.Equal(t, 1, conn.closes)
	require.True(t, w.IsClosed())
	require.ErrorIs(t, w.Send(pongEvent()), ErrConnectionClosed)
}

func TestConnWriter_WriteFailureClosesConnection(t *testing.T) {
	conn := &stubConn{writeErr: errors.New("broken pipe")}
	w := newConnWriter(conn, 0, zerolog.Nop())

	err := w.Send(thinkingEvent("step"))
	require.ErrorIs(t, err, ErrConnectionClosed)
	require.True(t, w.IsClosed())
	require.Equal(t, 1, conn.closes)
	require.Zero(t, conn.deadlines)
}

func TestConnWriter_ConcurrentSends(t *testing.T) {
	conn := &stubConn{}
	w := newConnWriter(conn, time.Second, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Send(thinkingEvent("x"))
		}()
	}
	wg.Wait()
	require.Len(t, conn.writes, 20)
}

func TestConnWriter_Nil(t *testing.T) {
	var w *connWriter
	require.ErrorIs(t, w.Send(pongEvent()), ErrConnectionClosed)
	require.True(t, w.IsClosed())
	require.NoError(t, w.Close())
}
