package webchat

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Outbound event types. Each frame is one JSON object with a "type" field.
const (
	EventSystem              = "system"
	EventConversationStarted = "conversation_started"
	EventThinking            = "thinking"
	EventMessage             = "message"
	EventPong                = "pong"
)

func systemEvent(msg string) map[string]any {
	return map[string]any{"type": EventSystem, "message": msg}
}

func conversationStartedEvent(convID string) map[string]any {
	return map[string]any{"type": EventConversationStarted, "conversation_id": convID}
}

func thinkingEvent(step string) map[string]any {
	return map[string]any{"type": EventThinking, "step": step}
}

// messageEvent carries the final assistant turn. Anonymous turns have no conversation
// and send conversation_id as null.
func messageEvent(content string, convID string) map[string]any {
	var id any
	if convID != "" {
		id = convID
	}
	return map[string]any{"type": EventMessage, "content": content, "conversation_id": id}
}

func pongEvent() map[string]any {
	return map[string]any{"type": EventPong}
}

func encodeEvent(ev map[string]any) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrap(err, "encode event")
	}
	return b, nil
}
