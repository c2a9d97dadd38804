package letta

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/relay/internal/domain"
)

// doneFrame terminates a server-sent event stream.
const doneFrame = "[DONE]"

// ErrStreamStopped is returned by a StreamMessages callback to end the
// stream early without surfacing an error to the caller.
var ErrStreamStopped = errors.New("letta: stream stopped by consumer")

// StreamMessages posts msgs to the agent's streaming endpoint and invokes fn
// for each message frame as it arrives, until the server sends the done
// frame, fn returns an error, or ctx ends. Frames that fail to parse are
// logged and skipped.
func (c *Client) StreamMessages(ctx context.Context, msgs []domain.OutgoingMessage, fn func(domain.AgentMessage) error) error {
	if len(msgs) == 0 {
		return errors.New("letta.Client.StreamMessages: no messages")
	}

	body, err := json.Marshal(map[string]any{
		"messages":      msgs,
		"stream_steps":  true,
		"stream_tokens": true,
	})
	if err != nil {
		return fmt.Errorf("letta.Client.StreamMessages: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL()+"/stream", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("letta.Client.StreamMessages: create request: %w", err)
	}
	c.setHeaders(req, true)

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("letta.Client.StreamMessages: %w", classifyTransportError(ctx, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("letta.Client.StreamMessages: %w", &domain.StatusError{Code: resp.StatusCode, Body: string(errBody)})
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == doneFrame {
			return nil
		}

		var w wireMessage
		if err := json.Unmarshal([]byte(payload), &w); err != nil {
			log.Debug().Err(err).Str("frame", truncate(payload, 128)).Msg("letta: skipping unparseable stream frame")
			continue
		}

		if err := fn(w.toDomain()); err != nil {
			if errors.Is(err, ErrStreamStopped) {
				return nil
			}
			return fmt.Errorf("letta.Client.StreamMessages: consumer: %w", err)
		}
	}

	if scanErr := scanner.Err(); scanErr != nil {
		return fmt.Errorf("letta.Client.StreamMessages: %w", classifyTransportError(ctx, scanErr))
	}
	return nil
}
