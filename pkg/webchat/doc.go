// Package webchat serves the chat surfaces: a websocket endpoint where each connection
// runs a Session (connect notice, conversation resolution, progress notices, final reply)
// and a small authenticated JSON API over the conversation store and the audit log.
//
// Routes mounted by Router.Handler:
//   - /ws/chat             websocket; credential via ?token=, access_token cookie
//   - /api/conversations   list, create-or-reuse, read, clear
//   - /api/chat/send       one-shot reply without progress or persistence
//   - /api/chat/logs       audit records
//   - /healthz
package webchat
