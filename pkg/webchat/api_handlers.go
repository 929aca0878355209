package webchat

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sardonic/pkg/auth"
	"github.com/go-go-golems/sardonic/pkg/inference/generator"
	chatstore "github.com/go-go-golems/sardonic/pkg/persistence/chatstore"
)

const maxRequestBody = 64 << 10

// APIHandler serves the request/response surface. Every route requires a concrete
// identity; conversations owned by someone else answer 404 exactly like missing ones.
func (r *Router) APIHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/conversations", r.handleListConversations)
	mux.HandleFunc("POST /api/conversations/new", r.handleNewConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", r.handleListMessages)
	mux.HandleFunc("DELETE /api/conversations/{id}/messages", r.handleClearMessages)
	mux.HandleFunc("DELETE /api/conversations/{id}", r.handleClearMessages)
	mux.HandleFunc("GET /api/chat/logs", r.handleListLogs)
	mux.HandleFunc("POST /api/chat/send", r.handleSend)
	return auth.Middleware(r.authn.WithBearer(true), auth.RequireIdentity(mux))
}

func (r *Router) handleListConversations(w http.ResponseWriter, req *http.Request) {
	id := auth.FromContext(req.Context())
	list, err := r.store.ListConversations(req.Context(), id.UserID, queryLimit(req, 200))
	if err != nil {
		writeInternalError(w, err, "list conversations")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (r *Router) handleNewConversation(w http.ResponseWriter, req *http.Request) {
	id := auth.FromContext(req.Context())
	conv, ok, err := r.store.FindReusable(req.Context(), id.UserID)
	if err != nil {
		writeInternalError(w, err, "find reusable conversation")
		return
	}
	if ok {
		writeJSON(w, http.StatusOK, conv)
		return
	}
	conv, err = r.store.Create(req.Context(), id.UserID, chatstore.DefaultConversationTitle)
	if err != nil {
		writeInternalError(w, err, "create conversation")
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (r *Router) handleListMessages(w http.ResponseWriter, req *http.Request) {
	conv, ok := r.ownedConversation(w, req)
	if !ok {
		return
	}
	msgs, err := r.store.ListMessages(req.Context(), conv.ID)
	if err != nil {
		writeInternalError(w, err, "list messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (r *Router) handleClearMessages(w http.ResponseWriter, req *http.Request) {
	conv, ok := r.ownedConversation(w, req)
	if !ok {
		return
	}
	n, err := r.store.ClearMessages(req.Context(), conv.ID)
	if err != nil {
		writeInternalError(w, err, "clear messages")
		return
	}
	log.Info().Str("component", "webchat").Str("conv_id", conv.ID).Int("deleted", n).Msg("conversation history cleared")
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": conv.ID, "deleted": n})
}

func (r *Router) handleListLogs(w http.ResponseWriter, req *http.Request) {
	if r.logs == nil {
		http.Error(w, "audit log not configured", http.StatusServiceUnavailable)
		return
	}
	logs, err := r.logs.ListAILogs(req.Context(), auth.FromContext(req.Context()).UserID, queryLimit(req, 100))
	if err != nil {
		writeInternalError(w, err, "list ai logs")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

type sendRequest struct {
	Message string `json:"message"`
	Context string `json:"context"`
}

// handleSend answers one message without progress events or persistence.
func (r *Router) handleSend(w http.ResponseWriter, req *http.Request) {
	var body sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestBody)).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		http.Error(w, "missing message", http.StatusBadRequest)
		return
	}
	res := r.gen.Generate(req.Context(), generator.Input{
		UserMessage: body.Message,
		OwnerID:     auth.FromContext(req.Context()).UserID,
		ContextNote: body.Context,
		Quiet:       true,
	}, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"response": res.Text,
		"degraded": res.Kind == generator.KindDegraded,
	})
}

func (r *Router) ownedConversation(w http.ResponseWriter, req *http.Request) (chatstore.Conversation, bool) {
	id := auth.FromContext(req.Context())
	conv, ok, err := r.store.Get(req.Context(), req.PathValue("id"), id.UserID)
	if err != nil {
		writeInternalError(w, err, "get conversation")
		return chatstore.Conversation{}, false
	}
	if !ok {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return chatstore.Conversation{}, false
	}
	return conv, true
}

func queryLimit(req *http.Request, def int) int {
	v := strings.TrimSpace(req.URL.Query().Get("limit"))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > 1000 {
		return 1000
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Str("component", "webchat").Msg("write json response failed")
	}
}

func writeInternalError(w http.ResponseWriter, err error, op string) {
	log.Error().Err(errors.Wrap(err, op)).Str("component", "webchat").Msg("api request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}
