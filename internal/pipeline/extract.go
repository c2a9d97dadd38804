package pipeline

import (
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/relay/internal/domain"
)

// assistantRole is the only role whose messages carry replies.
const assistantRole = "assistant"

// eligible reports whether a message can carry the reply to a request sent
// at after. The timestamp filter keeps a previous turn's reply from being
// mistaken for the current one.
func eligible(m domain.AgentMessage, after time.Time) bool {
	return m.Role == assistantRole && m.CreatedAt.After(after)
}

// byNewest returns the window sorted most-recent first. The wire window has
// no ordering contract, so the tie-break is imposed here.
func byNewest(msgs []domain.AgentMessage) []domain.AgentMessage {
	sorted := slices.Clone(msgs)
	slices.SortStableFunc(sorted, func(a, b domain.AgentMessage) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return sorted
}

// replyFrom pulls the literal reply out of one message: a send_message tool
// call wins over plain text, malformed call arguments are logged and
// skipped, tool calls by any other name are ignored.
func replyFrom(m domain.AgentMessage) (string, bool) {
	switch m.Kind {
	case domain.KindToolCall:
		if text, ok := m.ToolCall.ReplyText(); ok {
			return text, true
		}
		if m.ToolCall != nil && m.ToolCall.Name == domain.SendMessageTool {
			log.Warn().Str("arguments", m.ToolCall.Arguments).Msg("pipeline: skipping send_message call with unparseable arguments")
		}
		return "", false

	case domain.KindText:
		return m.Text, m.Text != ""

	default:
		return "", false
	}
}

// Extract scans the window most-recent first and returns the first reply
// eligible after the request timestamp. ok is false when nothing qualifies.
func Extract(msgs []domain.AgentMessage, after time.Time) (string, bool) {
	for _, m := range byNewest(msgs) {
		if !eligible(m, after) {
			continue
		}
		if text, ok := replyFrom(m); ok {
			return text, true
		}
	}
	return "", false
}

// ExtractAll collects every distinct eligible reply fragment in the window,
// most-recent first, de-duplicated by exact string match.
func ExtractAll(msgs []domain.AgentMessage, after time.Time) []string {
	var out []string
	for _, m := range byNewest(msgs) {
		if !eligible(m, after) {
			continue
		}
		text, ok := replyFrom(m)
		if !ok || slices.Contains(out, text) {
			continue
		}
		out = append(out, text)
	}
	return out
}
