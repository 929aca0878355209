package webchat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	chatstore "github.com/go-go-golems/sardonic/pkg/persistence/chatstore"
)

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestAPI_RequiresIdentity(t *testing.T) {
	env := newTestEnv(t, replyProvider("ok"))
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/conversations"},
		{http.MethodPost, "/api/conversations/new"},
		{http.MethodGet, "/api/conversations/x/messages"},
		{http.MethodDelete, "/api/conversations/x"},
		{http.MethodGet, "/api/chat/logs"},
		{http.MethodPost, "/api/chat/send"},
	} {
		status, _ := env.do(t, tc.method, tc.path, "", nil)
		require.Equal(t, http.StatusUnauthorized, status, tc.path)
		status, _ = env.do(t, tc.method, tc.path, "bogus", nil)
		require.Equal(t, http.StatusUnauthorized, status, tc.path)
	}
}

func TestAPI_CookieCredential(t *testing.T) {
	env := newTestEnv(t, replyProvider("ok"))
	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/conversations", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: env.token(t, env.alice.ID)})
	resp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_IgnoresQueryToken(t *testing.T) {
	env := newTestEnv(t, replyProvider("ok"))
	status, _ := env.do(t, http.MethodGet, "/api/conversations?token="+env.token(t, env.alice.ID), "", nil)
	require.Equal(t, http.StatusUnauthorized, status)

	// a bearer header is read before the query string
	status, _ = env.do(t, http.MethodGet, "/api/conversations?token=garbage", env.token(t, env.alice.ID), nil)
	require.Equal(t, http.StatusOK, status)
}

func TestAPI_NewConversationReusesEmpty(t *testing.T) {
	env := newTestEnv(t, replyProvider("ok"))
	tok := env.token(t, env.alice.ID)

	status, data := env.do(t, http.MethodPost, "/api/conversations/new", tok, nil)
	require.Equal(t, http.StatusCreated, status)
	created := decode[chatstore.Conversation](t, data)
	require.Equal(t, env.alice.ID, created.OwnerID)
	require.Equal(t, chatstore.DefaultConversationTitle, created.Title)

	status, data = env.do(t, http.MethodPost, "/api/conversations/new", tok, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, created.ID, decode[chatstore.Conversation](t, data).ID)

	// once it has history a fresh one is created
	_, err := env.store.AppendMessage(context.Background(), created.ID, chatstore.RoleUser, "hello")
	require.NoError(t, err)
	status, data = env.do(t, http.MethodPost, "/api/conversations/new", tok, nil)
	require.Equal(t, http.StatusCreated, status)
	require.NotEqual(t, created.ID, decode[chatstore.Conversation](t, data).ID)
}

func TestAPI_ListAndReadConversation(t *testing.T) {
	env := newTestEnv(t, replyProvider("ok"))
	ctx := context.Background()
	conv, err := env.store.Create(ctx, env.alice.ID, "")
	require.NoError(t, err)
	_, err = env.store.AppendMessage(ctx, conv.ID, chatstore.RoleUser, "first words")
	require.NoError(t, err)
	_, err = env.store.AppendMessage(ctx, conv.ID, chatstore.RoleAssistant, "reply")
	require.NoError(t, err)

	status, data := env.do(t, http.MethodGet, "/api/conversations", env.token(t, env.alice.ID), nil)
	require.Equal(t, http.StatusOK, status)
	list := decode[[]chatstore.ConversationSummary](t, data)
	require.Len(t, list, 1)
	require.Equal(t, conv.ID, list[0].ID)
	require.Equal(t, "first words", list[0].Title)
	require.Equal(t, 2, list[0].MessageCount)

	status, data = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", env.token(t, env.alice.ID), nil)
	require.Equal(t, http.StatusOK, status)
	msgs := decode[[]chatstore.Message](t, data)
	require.Len(t, msgs, 2)
	require.Equal(t, chatstore.RoleUser, msgs[0].Role)

	// bob sees neither the list entry nor the messages
	status, data = env.do(t, http.MethodGet, "/api/conversations", env.token(t, env.bob.ID), nil)
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, decode[[]chatstore.ConversationSummary](t, data))
	status, _ = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", env.token(t, env.bob.ID), nil)
	require.Equal(t, http.StatusNotFound, status)
	status, _ = env.do(t, http.MethodGet, "/api/conversations/missing/messages", env.token(t, env.alice.ID), nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestAPI_ClearHistoryThenNewReturnsSameConversation(t *testing.T) {
	env := newTestEnv(t, replyProvider("ok"))
	ctx := context.Background()
	tok := env.token(t, env.alice.ID)
	conv, err := env.store.Create(ctx, env.alice.ID, "")
	require.NoError(t, err)
	_, err = env.store.AppendMessage(ctx, conv.ID, chatstore.RoleUser, "secret")
	require.NoError(t, err)

	status, _ := env.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, env.token(t, env.bob.ID), nil)
	require.Equal(t, http.StatusNotFound, status)
	n, err := env.store.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	status, data := env.do(t, http.MethodDelete, "/api/conversations/"+conv.ID+"/messages", tok, nil)
	require.Equal(t, http.StatusOK, status)
	res := decode[map[string]any](t, data)
	require.Equal(t, conv.ID, res["conversation_id"])
	require.EqualValues(t, 1, res["deleted"])

	status, data = env.do(t, http.MethodPost, "/api/conversations/new", tok, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, conv.ID, decode[chatstore.Conversation](t, data).ID)
}

func TestAPI_SendAndLogs(t *testing.T) {
	env := newTestEnv(t, replyProvider("Sure"))
	tok := env.token(t, env.alice.ID)

	status, data := env.do(t, http.MethodPost, "/api/chat/send", tok, map[string]any{"message": "hi", "context": "testing"})
	require.Equal(t, http.StatusOK, status)
	res := decode[map[string]any](t, data)
	require.Equal(t, "Sure (re: hi)", res["response"])
	require.Equal(t, false, res["degraded"])

	status, _ = env.do(t, http.MethodPost, "/api/chat/send", tok, map[string]any{"message": "  "})
	require.Equal(t, http.StatusBadRequest, status)

	// the send endpoint does not persist conversations
	list, err := env.store.ListConversations(context.Background(), env.alice.ID, 10)
	require.NoError(t, err)
	require.Empty(t, list)

	tokens := 7
	require.NoError(t, env.store.SaveAILog(context.Background(), chatstore.AILogRecord{
		ID:          "log-bob",
		OwnerID:     env.bob.ID,
		InputText:   "private",
		OutputText:  "noted",
		ModelName:   "test-model",
		CreatedAtMs: 2,
	}))
	require.NoError(t, env.store.SaveAILog(context.Background(), chatstore.AILogRecord{
		ID:          "log-1",
		OwnerID:     env.alice.ID,
		InputText:   "hi",
		OutputText:  "Sure",
		ModelName:   "test-model",
		TokensUsed:  &tokens,
		CreatedAtMs: 1,
	}))
	status, data = env.do(t, http.MethodGet, "/api/chat/logs?limit=5", tok, nil)
	require.Equal(t, http.StatusOK, status)
	logs := decode[[]chatstore.AILogRecord](t, data)
	require.Len(t, logs, 1)
	require.Equal(t, "log-1", logs[0].ID)
	require.Equal(t, 7, *logs[0].TokensUsed)
}

func TestAPI_SendDegraded(t *testing.T) {
	env := newTestEnv(t, failingProvider())
	status, data := env.do(t, http.MethodPost, "/api/chat/send", env.token(t, env.alice.ID), map[string]any{"message": "hi"})
	require.Equal(t, http.StatusOK, status)
	res := decode[map[string]any](t, data)
	require.Equal(t, true, res["degraded"])
	require.Equal(t, env.router.gen.Persona().DegradedReply, res["response"])
}

func TestAPI_Healthz(t *testing.T) {
	env := newTestEnv(t, replyProvider("ok"))
	status, data := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, decode[map[string]any](t, data)["ok"])
}

func TestQueryLimit(t *testing.T) {
	mk := func(q string) *http.Request {
		req, err := http.NewRequest(http.MethodGet, "http://x/api?"+q, nil)
		require.NoError(t, err)
		return req
	}
	require.Equal(t, 50, queryLimit(mk(""), 50))
	require.Equal(t, 50, queryLimit(mk("limit=abc"), 50))
	require.Equal(t, 50, queryLimit(mk("limit=-1"), 50))
	require.Equal(t, 3, queryLimit(mk("limit=3"), 50))
	require.Equal(t, 1000, queryLimit(mk("limit=99999"), 50))
}
