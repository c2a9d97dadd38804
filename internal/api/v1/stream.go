package v1

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/relay/internal/pipeline"
)

// streamRequest mirrors ChatInput's body for the SSE endpoint, which is
// served outside huma because its response is a raw event stream.
type streamRequest struct {
	Message  string                  `json:"message"`
	Model    string                  `json:"model,omitempty"`
	Messages []pipeline.PriorMessage `json:"messages,omitempty"`
	Options  map[string]any          `json:"options,omitempty"`
}

// StreamHandler relays one chat turn and writes the result as Server-Sent
// Events: one frame per envelope record, closed by a `data: [DONE]` frame.
func StreamHandler(pipe ChatPipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req streamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Message == "" {
			http.Error(w, "message is required", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		ctx := r.Context()
		res, err := pipe.Pipe(ctx, pipeline.Request{
			UserMessage: req.Message,
			ModelID:     req.Model,
			Prior:       req.Messages,
			Options:     req.Options,
			Stream:      true,
		})

		events := pipeline.ErrorEvents(pipeline.UserFacing(err))
		if err == nil {
			events = pipe.Events(res)
		}

		for evt := range events {
			if writeErr := writeFrame(w, flusher, evt); writeErr != nil {
				log.Debug().Err(writeErr).Msg("stream: client gone")
				return
			}
		}

		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, evt pipeline.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
