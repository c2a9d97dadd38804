package letta

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gosuda/relay/internal/domain"
)

// wireMessage is the loosely-shaped message object the agent service emits.
// Different deployments populate different subsets of these fields; the
// decoder collapses them into the closed domain.AgentMessage variant.
type wireMessage struct {
	Role             string        `json:"role"`
	CreatedAt        time.Time     `json:"created_at"`
	MessageType      string        `json:"message_type"`
	Text             string        `json:"text"`
	Content          string        `json:"content"`
	AssistantMessage string        `json:"assistant_message"`
	ToolReturn       string        `json:"tool_return"`
	ToolCall         *wireToolCall `json:"tool_call"`
}

type wireToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// decodeMessages accepts either a bare JSON array of messages or an object
// with a "messages" field holding that array.
func decodeMessages(data []byte) ([]domain.AgentMessage, error) {
	var wire []wireMessage

	if err := json.Unmarshal(data, &wire); err != nil {
		var envelope struct {
			Messages []wireMessage `json:"messages"`
		}
		if envErr := json.Unmarshal(data, &envelope); envErr != nil {
			return nil, fmt.Errorf("letta: decode messages: %w", err)
		}
		wire = envelope.Messages
	}

	msgs := make([]domain.AgentMessage, 0, len(wire))
	for _, w := range wire {
		msgs = append(msgs, w.toDomain())
	}
	return msgs, nil
}

// toDomain maps one wire message to the closed variant. Unrecognized shapes
// become KindUnknown with whatever role/timestamp survive; they are never
// an error.
func (w wireMessage) toDomain() domain.AgentMessage {
	msg := domain.AgentMessage{
		Kind:      domain.KindUnknown,
		Role:      w.Role,
		CreatedAt: w.CreatedAt,
	}

	switch w.MessageType {
	case "tool_call_message":
		if w.ToolCall != nil {
			msg.Kind = domain.KindToolCall
			msg.ToolCall = &domain.ToolCall{
				Name:      w.ToolCall.Name,
				Arguments: w.ToolCall.Arguments,
			}
		}
		return msg

	case "tool_return_message":
		msg.Kind = domain.KindToolReturn
		msg.Text = w.ToolReturn
		return msg

	case "assistant_message":
		msg.Kind = domain.KindText
		if msg.Role == "" {
			msg.Role = "assistant"
		}
		msg.Text = firstNonEmpty(w.AssistantMessage, w.Text, w.Content)
		return msg
	}

	if text := firstNonEmpty(w.Text, w.Content); text != "" {
		msg.Kind = domain.KindText
		msg.Text = text
	}
	return msg
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
