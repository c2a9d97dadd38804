package pipeline

import (
	"iter"
)

// Event types understood by the browser chat consumer.
const (
	EventCompletion = "chat:completion"
	EventError      = "chat:error"
)

// Event is the tagged envelope emitted on streaming surfaces.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData carries the incremental or terminal payload of an event.
type EventData struct {
	Message string `json:"message"`
	Done    bool   `json:"done"`
}

// Chunks yields reply split into rune-aligned pieces of at most size runes,
// in order, covering the whole string. The empty string yields nothing.
// Concatenating the chunks reproduces reply exactly; multi-byte characters
// are never split.
func Chunks(reply string, size int) iter.Seq[string] {
	return func(yield func(string) bool) {
		if size < 1 {
			size = 1
		}
		runes := []rune(reply)
		for i := 0; i < len(runes); i += size {
			end := min(i+size, len(runes))
			if !yield(string(runes[i:end])) {
				return
			}
		}
	}
}

// CompletionEvents renders a successful reply as the event envelope: an
// opening empty record, one incremental record per chunk, and exactly one
// terminal record carrying the full reply with done set. The terminal
// record is always last.
func CompletionEvents(reply string, chunkSize int) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if !yield(Event{Type: EventCompletion, Data: EventData{Message: "", Done: false}}) {
			return
		}
		for chunk := range Chunks(reply, chunkSize) {
			if !yield(Event{Type: EventCompletion, Data: EventData{Message: chunk, Done: false}}) {
				return
			}
		}
		yield(Event{Type: EventCompletion, Data: EventData{Message: reply, Done: true}})
	}
}

// ErrorEvents renders a failure as the event envelope: the opening empty
// record followed by a single chat:error terminal record.
func ErrorEvents(message string) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if !yield(Event{Type: EventCompletion, Data: EventData{Message: "", Done: false}}) {
			return
		}
		yield(Event{Type: EventError, Data: EventData{Message: message, Done: true}})
	}
}
