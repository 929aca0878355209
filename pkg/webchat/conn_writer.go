package webchat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrConnectionClosed is returned by Send after the connection was closed.
var ErrConnectionClosed = errors.New("connection closed")

// Sender delivers outbound events to the peer of one session.
type Sender interface {
	Send(ev map[string]any) error
}

type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// connWriter serializes writes to one websocket. gorilla allows one concurrent writer,
// and the session and the read loop (pongs) both write.
type connWriter struct {
	mu           sync.Mutex
	conn         wsConn
	closed       bool
	writeTimeout time.Duration
	log          zerolog.Logger
}

var _ Sender = &connWriter{}

func newConnWriter(conn wsConn, writeTimeout time.Duration, logger zerolog.Logger) *connWriter {
	return &connWriter{conn: conn, writeTimeout: writeTimeout, log: logger}
}

func (w *connWriter) Send(ev map[string]any) error {
	if w == nil || w.conn == nil {
		return ErrConnectionClosed
	}
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrConnectionClosed
	}
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		w.log.Warn().Err(err).Msg("ws send failed, dropping connection")
		w.closeLocked()
		return errors.Wrap(ErrConnectionClosed, err.Error())
	}
	return nil
}

func (w *connWriter) IsClosed() bool {
	if w == nil {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *connWriter) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *connWriter) closeLocked() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}
