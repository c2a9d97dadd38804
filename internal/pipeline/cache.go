package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/relay/internal/domain"
)

// cacheKey derives the response cache key from the tool-call pair the turn
// resolves to: the send_message tool and its canonical arguments JSON.
func cacheKey(userMessage string) string {
	args, err := json.Marshal(map[string]string{"message": userMessage})
	if err != nil {
		args = []byte(userMessage)
	}

	sum := sha256.Sum256([]byte(domain.SendMessageTool + ":" + string(args)))
	return "relaycache:" + hex.EncodeToString(sum[:])
}

// cacheGet consults the response cache. Cache errors are logged and count
// as a miss; caching never affects correctness.
func (p *Pipeline) cacheGet(ctx context.Context, userMessage string) (string, bool) {
	if p.cache == nil {
		return "", false
	}

	reply, ok, err := p.cache.Get(ctx, cacheKey(userMessage))
	if err != nil {
		log.Warn().Err(err).Msg("pipeline: cache get failed, treating as miss")
		return "", false
	}
	return reply, ok
}

func (p *Pipeline) cacheSet(ctx context.Context, userMessage, reply string) {
	if p.cache == nil {
		return
	}

	if err := p.cache.Set(ctx, cacheKey(userMessage), reply, p.cacheTTL); err != nil {
		log.Warn().Err(err).Msg("pipeline: cache set failed")
	}
}
