package webchat

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sardonic/pkg/auth"
)

// WSHandler authenticates the handshake, upgrades, opens a session and starts its read
// loop. Authentication never rejects: failures continue as anonymous.
func (r *Router) WSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		hs := auth.HandshakeFromRequest(req)
		res := r.authn.Authenticate(req.Context(), hs)

		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Debug().Err(err).Str("component", "webchat").Msg("ws upgrade failed")
			return
		}
		wsLog := log.With().
			Str("component", "webchat").
			Str("remote", conn.RemoteAddr().String()).
			Str("user_id", res.Identity.UserID).
			Logger()

		if !r.trackSession() {
			wsLog.Debug().Msg("server shutting down, refusing ws connection")
			_ = conn.Close()
			return
		}
		sess, writer, err := r.openSession(conn, res.Identity, hs.Query.Get("conversation_id"))
		if err != nil {
			r.sessions.Done()
			wsLog.Error().Err(err).Str("detail", fmt.Sprintf("%+v", err)).Msg("ws session setup failed")
			_ = conn.Close()
			return
		}
		wsLog.Info().Str("session_id", sess.ID()).Str("auth_source", string(res.Source)).Msg("ws connected")

		go func() {
			defer r.sessions.Done()
			sess.Run(r.sessCtx)
		}()
		go r.readLoop(conn, sess, writer)
		go func() {
			// unblocks the read loop when the session ends first
			<-sess.Done()
			_ = writer.Close()
		}()
	}
}

// openSession converts panics during setup into errors so a defect closes only this
// connection.
func (r *Router) openSession(conn *websocket.Conn, id auth.Identity, resumeID string) (sess *Session, writer *connWriter, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during session setup: %v", p)
		}
	}()
	conn.SetReadLimit(r.readLimit)
	writer = newConnWriter(conn, r.writeTimeout, log.With().Str("component", "webchat").Str("remote", conn.RemoteAddr().String()).Logger())
	sess, err = NewSession(SessionConfig{
		Identity:  id,
		ResumeID:  resumeID,
		Store:     r.store,
		Generator: r.gen,
		Out:       writer,
		QueueSize: r.queueSize,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := sess.Open(); err != nil {
		return nil, nil, err
	}
	return sess, writer, nil
}

func (r *Router) readLoop(conn *websocket.Conn, sess *Session, writer *connWriter) {
	defer func() {
		sess.Close()
		_ = writer.Close()
		log.Info().Str("component", "webchat").Str("session_id", sess.ID()).Msg("ws disconnected")
	}()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("session_id", sess.ID()).Msg("ws read loop end")
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		frame := parseInbound(data)
		switch frame.kind {
		case inboundPing:
			if err := writer.Send(pongEvent()); err != nil {
				return
			}
		case inboundChat:
			sess.Enqueue(frame.text)
		case inboundIgnore:
		}
	}
}
