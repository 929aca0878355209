package webchat

import (
	"encoding/json"
	"strings"
)

type inboundKind int

const (
	inboundIgnore inboundKind = iota
	inboundChat
	inboundPing
)

type inboundFrame struct {
	kind inboundKind
	text string
}

// parseInbound classifies a text frame. Frames that are not JSON objects, carry no
// usable message, or have a non-string message are ignored.
func parseInbound(data []byte) inboundFrame {
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return inboundFrame{}
	}
	if strings.EqualFold(raw, "ping") {
		return inboundFrame{kind: inboundPing}
	}
	var v map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return inboundFrame{}
	}
	if t, ok := v["type"]; ok {
		var typ string
		if err := json.Unmarshal(t, &typ); err == nil && strings.EqualFold(typ, "ping") {
			return inboundFrame{kind: inboundPing}
		}
	}
	m, ok := v["message"]
	if !ok {
		return inboundFrame{}
	}
	var text string
	if err := json.Unmarshal(m, &text); err != nil {
		return inboundFrame{}
	}
	if strings.TrimSpace(text) == "" {
		return inboundFrame{}
	}
	return inboundFrame{kind: inboundChat, text: text}
}
