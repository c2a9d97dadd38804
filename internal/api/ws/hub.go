package ws

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/relay/internal/pipeline"
	redisstore "github.com/gosuda/relay/internal/store/redis"
)

// Hub serves WebSocket observers backed by Redis pub/sub. Observers receive
// the same event envelope the streaming endpoint emits, mirrored by the
// pipeline as each turn completes.
type Hub struct {
	store *redisstore.Store
}

func NewHub(store *redisstore.Store) *Hub {
	return &Hub{store: store}
}

// ServeChat handles WebSocket connections for chat turn events.
// Subscribes to Redis channel "chat:<agentID>".
func (h *Hub) ServeChat(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if agentID == "" {
		http.Error(w, "missing agent id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	channel := pipeline.ChatChannel(agentID)

	messages, cleanup, err := h.store.Subscribe(ctx, channel)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}
