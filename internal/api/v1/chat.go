package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/relay/internal/domain"
	"github.com/gosuda/relay/internal/pipeline"
)

type ChatInput struct {
	Body struct {
		Message  string                  `json:"message" minLength:"1" doc:"User message for this turn"`
		Model    string                  `json:"model,omitempty" doc:"Model identifier supplied by the hosting UI"`
		Messages []pipeline.PriorMessage `json:"messages,omitempty" doc:"Prior turns, including retrieval sources"`
		Options  map[string]any          `json:"options,omitempty" doc:"Pass-through UI options"`
	}
}

type ChatOutput struct {
	Body struct {
		Reply     string `json:"reply" doc:"Resolved agent reply"`
		Exhausted bool   `json:"exhausted,omitempty" doc:"True when polling gave up and the reply is the fallback"`
		Cached    bool   `json:"cached,omitempty" doc:"True when the reply came from the response cache"`
	}
}

func RegisterChatRoutes(api huma.API, pipe ChatPipeline) {
	huma.Register(api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/chat",
		Summary:     "Relay one chat turn and wait for the agent reply",
		Tags:        []string{"Chat"},
	}, func(ctx context.Context, input *ChatInput) (*ChatOutput, error) {
		res, err := pipe.Pipe(ctx, pipeline.Request{
			UserMessage: input.Body.Message,
			ModelID:     input.Body.Model,
			Prior:       input.Body.Messages,
			Options:     input.Body.Options,
		})
		if err != nil {
			var se *domain.StatusError
			switch {
			case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrTimeout):
				return nil, huma.Error504GatewayTimeout("agent request timed out", err)
			case errors.As(err, &se):
				return nil, huma.Error502BadGateway("agent request failed", err)
			default:
				return nil, huma.Error500InternalServerError("failed to relay chat turn", err)
			}
		}

		out := &ChatOutput{}
		out.Body.Reply = res.Reply
		out.Body.Exhausted = res.Exhausted
		out.Body.Cached = res.FromCache
		return out, nil
	})
}
