package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/relay/internal/api/v1"
	"github.com/gosuda/relay/internal/api/ws"
)

func registerAPIRoutes(api huma.API, pipe v1.ChatPipeline) {
	v1.RegisterChatRoutes(api, pipe)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/chat/{agentID}", hub.ServeChat)
}
