package domain

import (
	"encoding/json"
	"time"
)

// Role identifies the author of an outgoing message.
type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// OutgoingMessage is one message sent to the remote agent. Created per
// pipeline invocation and sent exactly once.
type OutgoingMessage struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Kind categorizes a decoded agent message. Anything the decoder does not
// recognize becomes KindUnknown rather than an error.
type Kind string

const (
	KindText       Kind = "text"
	KindToolCall   Kind = "tool_call"
	KindToolReturn Kind = "tool_return"
	KindUnknown    Kind = "unknown"
)

// AgentMessage is one message observed in the remote agent's conversation
// window. It is read-only; the remote service owns it. The transport decodes
// the loosely-shaped wire form into this closed variant exactly once.
type AgentMessage struct {
	Kind      Kind      `json:"kind"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	Text      string    `json:"text,omitempty"`
	ToolCall  *ToolCall `json:"tool_call,omitempty"`
}

// ToolCall is a structured invocation the agent emits instead of plain text.
// Arguments holds the raw JSON argument string as received.
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// SendMessageTool is the tool-call convention the pipeline recognizes: a call
// by this name carries the literal reply text in its "message" argument.
const SendMessageTool = "send_message"

// ReplyText returns the reply carried by a send_message tool call.
// It reports false for calls with other names and for malformed argument
// JSON; malformed arguments are a skip condition, never an error.
func (tc *ToolCall) ReplyText() (string, bool) {
	if tc == nil || tc.Name != SendMessageTool {
		return "", false
	}

	var args struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		return "", false
	}
	if args.Message == "" {
		return "", false
	}

	return args.Message, true
}
