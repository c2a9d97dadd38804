package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/relay/internal/config"
	"github.com/gosuda/relay/internal/domain"
)

// DefaultName is returned for title probe requests from the hosting chat UI.
const DefaultName = "Letta Chat"

// uiOnlyFields are stripped from caller options before anything is sent to
// the agent; they exist for the hosting front end only.
var uiOnlyFields = []string{"user", "chat_id", "title"}

// Cache is an optional response cache. Implementations must treat their own
// failures as misses; the pipeline is correct with caching disabled.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Publisher mirrors rendered events to observers (the WebSocket hub).
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// StreamTransport is implemented by transports that can deliver a turn's
// messages as a live event stream instead of send-then-poll.
type StreamTransport interface {
	StreamMessages(ctx context.Context, msgs []domain.OutgoingMessage, fn func(domain.AgentMessage) error) error
}

// Hooks are caller-overridable lifecycle and shaping callbacks. Nil fields
// are no-ops.
type Hooks struct {
	OnStart         func(ctx context.Context) error
	OnStop          func(ctx context.Context) error
	OnConfigChanged func(ctx context.Context) error

	// BeforeSend may reshape the request before it reaches the agent.
	BeforeSend func(ctx context.Context, req *Request) error
	// AfterReceive may reshape the result before it reaches the caller.
	AfterReceive func(ctx context.Context, res *Result) error
}

// SourceMeta describes one retrieved document attached to a prior message.
type SourceMeta struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Source is retrieval context carried on a prior assistant message.
type Source struct {
	Documents []string     `json:"document"`
	Metadata  []SourceMeta `json:"metadata"`
}

// PriorMessage is one earlier turn supplied by the hosting front end.
type PriorMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Sources []Source `json:"sources,omitempty"`
}

// Request is one chat turn to relay.
type Request struct {
	UserMessage string
	ModelID     string
	Prior       []PriorMessage
	Options     map[string]any
	Stream      bool
}

// Result is the resolved outcome of one turn. Exhausted results carry the
// apology string as the reply; exhaustion is a value, not an error.
type Result struct {
	Reply     string
	Exhausted bool
	FromCache bool
}

// Pipeline relays one chat turn: clean the payload, send the user message,
// poll for the reply, render it. Construction captures all configuration;
// reconfiguration builds a new Pipeline.
type Pipeline struct {
	name      string
	transport Transport
	poller    *Poller
	chunkSize int
	agentID   string
	hooks     Hooks

	cache    Cache
	cacheTTL time.Duration

	pub Publisher

	serialize bool
	mu        sync.Mutex
	convLocks map[string]*sync.Mutex

	now func() time.Time
}

// New wires a Pipeline from configuration. cache and pub may be nil to
// disable the response cache and the observer mirror.
func New(cfg *config.Config, transport Transport, cache Cache, pub Publisher, hooks Hooks) *Pipeline {
	p := &Pipeline{
		name:      DefaultName,
		transport: transport,
		poller:    NewPoller(transport, cfg.Poll),
		chunkSize: cfg.Stream.ChunkSize,
		agentID:   cfg.Agent.AgentID,
		hooks:     hooks,
		pub:       pub,
		serialize: cfg.SerializeConversations,
		convLocks: make(map[string]*sync.Mutex),
		now:       time.Now,
	}
	if cfg.Cache.Enabled && cache != nil {
		p.cache = cache
		p.cacheTTL = cfg.Cache.TTL
	}
	return p
}

// Name returns the pipeline display name used for title probes.
func (p *Pipeline) Name() string { return p.name }

// ChunkSize returns the configured streaming chunk size in runes.
func (p *Pipeline) ChunkSize() int { return p.chunkSize }

// Start runs the OnStart hook.
func (p *Pipeline) Start(ctx context.Context) error {
	log.Info().Str("pipeline", p.name).Str("agent_id", p.agentID).Msg("pipeline: starting")
	if p.hooks.OnStart != nil {
		if err := p.hooks.OnStart(ctx); err != nil {
			return fmt.Errorf("pipeline.Pipeline.Start: %w", err)
		}
	}
	return nil
}

// Stop runs the OnStop hook.
func (p *Pipeline) Stop(ctx context.Context) error {
	log.Info().Str("pipeline", p.name).Msg("pipeline: stopping")
	if p.hooks.OnStop != nil {
		if err := p.hooks.OnStop(ctx); err != nil {
			return fmt.Errorf("pipeline.Pipeline.Stop: %w", err)
		}
	}
	return nil
}

// ConfigChanged runs the OnConfigChanged hook. Configuration itself is
// immutable per Pipeline; callers invoke this after swapping in a
// reconfigured instance.
func (p *Pipeline) ConfigChanged(ctx context.Context) error {
	if p.hooks.OnConfigChanged != nil {
		if err := p.hooks.OnConfigChanged(ctx); err != nil {
			return fmt.Errorf("pipeline.Pipeline.ConfigChanged: %w", err)
		}
	}
	return nil
}

// Pipe relays one chat turn end to end. It always produces a terminal
// Result or error; exhaustion yields the apology string, never silence.
func (p *Pipeline) Pipe(ctx context.Context, req Request) (*Result, error) {
	if isTitleProbe(req.Options) {
		return &Result{Reply: p.name}, nil
	}

	req.Options = stripUIFields(req.Options)

	if p.hooks.BeforeSend != nil {
		if err := p.hooks.BeforeSend(ctx, &req); err != nil {
			return nil, fmt.Errorf("pipeline.Pipeline.Pipe: before send hook: %w", err)
		}
	}

	if req.UserMessage == "" {
		return nil, errors.New("pipeline.Pipeline.Pipe: empty user message")
	}

	if p.serialize {
		unlock := p.lockConversation(p.agentID)
		defer unlock()
	}

	requestID := uuid.New()
	logger := log.With().Str("request_id", requestID.String()).Str("agent_id", p.agentID).Logger()

	if reply, ok := p.cacheGet(ctx, req.UserMessage); ok {
		logger.Debug().Msg("pipeline: cache hit")
		res := &Result{Reply: reply, FromCache: true}
		p.finish(ctx, res, nil)
		return res, p.afterReceive(ctx, res)
	}

	outgoing := buildOutgoing(req)

	// Streaming turns go over the agent's event stream when the transport
	// supports it. A stream that completes without a reply is a final
	// answer, not a reason to re-send; only a transport failure falls back
	// to send-then-poll.
	if req.Stream {
		if st, ok := p.transport.(StreamTransport); ok {
			reply, found, streamErr := streamReply(ctx, st, outgoing)
			switch {
			case streamErr != nil:
				logger.Warn().Err(streamErr).Msg("pipeline: stream failed, falling back to polling")
			case found:
				p.cacheSet(ctx, req.UserMessage, reply)
				res := &Result{Reply: reply}
				p.finish(ctx, res, nil)
				return res, p.afterReceive(ctx, res)
			default:
				logger.Info().Msg("pipeline: stream ended without a reply")
				res := &Result{Reply: domain.Apology, Exhausted: true}
				p.finish(ctx, res, nil)
				return res, p.afterReceive(ctx, res)
			}
		}
	}

	after := p.now()

	initial, err := p.transport.SendMessage(ctx, outgoing)
	if err != nil {
		err = fmt.Errorf("pipeline.Pipeline.Pipe: send: %w", err)
		logger.Error().Err(err).Msg("pipeline: send failed")
		p.finish(ctx, nil, err)
		return nil, err
	}

	reply, err := p.poller.Run(ctx, initial, after)
	switch {
	case errors.Is(err, domain.ErrExhausted):
		logger.Info().Msg("pipeline: poll window exhausted without a reply")
		res := &Result{Reply: domain.Apology, Exhausted: true}
		p.finish(ctx, res, nil)
		return res, p.afterReceive(ctx, res)
	case err != nil:
		err = fmt.Errorf("pipeline.Pipeline.Pipe: poll: %w", err)
		p.finish(ctx, nil, err)
		return nil, err
	}

	p.cacheSet(ctx, req.UserMessage, reply)

	res := &Result{Reply: reply}
	p.finish(ctx, res, nil)
	return res, p.afterReceive(ctx, res)
}

// Events renders a completed turn as the streaming event envelope.
func (p *Pipeline) Events(res *Result) iter.Seq[Event] {
	return CompletionEvents(res.Reply, p.chunkSize)
}

func (p *Pipeline) afterReceive(ctx context.Context, res *Result) error {
	if p.hooks.AfterReceive == nil {
		return nil
	}
	if err := p.hooks.AfterReceive(ctx, res); err != nil {
		return fmt.Errorf("pipeline.Pipeline.Pipe: after receive hook: %w", err)
	}
	return nil
}

// finish mirrors the turn's event stream to observers. Failures here are
// logged, never surfaced: observers are best-effort.
func (p *Pipeline) finish(ctx context.Context, res *Result, pipeErr error) {
	if p.pub == nil {
		return
	}

	events := ErrorEvents(UserFacing(pipeErr))
	if pipeErr == nil && res != nil {
		events = CompletionEvents(res.Reply, p.chunkSize)
	}

	channel := ChatChannel(p.agentID)
	for evt := range events {
		payload, err := json.Marshal(evt)
		if err != nil {
			return
		}
		if pubErr := p.pub.Publish(ctx, channel, payload); pubErr != nil {
			log.Warn().Err(pubErr).Str("channel", channel).Msg("pipeline: failed to mirror event to observers")
			return
		}
	}
}

// streamReply consumes one streamed turn and keeps the latest reply
// candidate. Stream frames belong to this turn only, so no timestamp filter
// applies.
func streamReply(ctx context.Context, st StreamTransport, msgs []domain.OutgoingMessage) (string, bool, error) {
	var (
		reply string
		found bool
	)
	err := st.StreamMessages(ctx, msgs, func(m domain.AgentMessage) error {
		if m.Role != assistantRole {
			return nil
		}
		if text, ok := replyFrom(m); ok {
			reply, found = text, true
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return reply, found, nil
}

// ChatChannel returns the observer channel name for an agent conversation.
func ChatChannel(agentID string) string {
	return "chat:" + agentID
}

// UserFacing renders an internal error as the message shown to a chat user.
func UserFacing(err error) string {
	if err == nil {
		return domain.Apology
	}
	var se *domain.StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("Error communicating with agent: status %d", se.Code)
	}
	return "Error communicating with agent: " + err.Error()
}

// buildOutgoing assembles the messages for one turn: retrieval context from
// prior assistant messages goes first as a system message, then the user
// turn itself.
func buildOutgoing(req Request) []domain.OutgoingMessage {
	var out []domain.OutgoingMessage

	if ctxText := contextFromPrior(req.Prior); ctxText != "" {
		out = append(out, domain.OutgoingMessage{Role: domain.RoleSystem, Text: ctxText})
	}

	out = append(out, domain.OutgoingMessage{Role: domain.RoleUser, Text: req.UserMessage})
	return out
}

// contextFromPrior flattens source documents and their metadata attached to
// prior assistant messages into one context block.
func contextFromPrior(prior []PriorMessage) string {
	var blocks []string

	for _, msg := range prior {
		if msg.Role != assistantRole {
			continue
		}
		for _, src := range msg.Sources {
			if formatted := formatSource(src); formatted != "" {
				blocks = append(blocks, formatted)
			}
		}
	}

	return strings.Join(blocks, "\n\n")
}

func formatSource(src Source) string {
	var parts []string

	for _, doc := range src.Documents {
		doc = strings.TrimSpace(strings.ReplaceAll(doc, " ", " "))
		if doc != "" {
			parts = append(parts, doc)
		}
	}
	for _, meta := range src.Metadata {
		if meta.Title != "" && meta.Description != "" {
			parts = append(parts, "\nSource: "+meta.Title, meta.Description)
		}
	}

	return strings.Join(parts, "\n")
}

func isTitleProbe(options map[string]any) bool {
	v, ok := options["title"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func stripUIFields(options map[string]any) map[string]any {
	if options == nil {
		return nil
	}
	cleaned := make(map[string]any, len(options))
	for k, v := range options {
		cleaned[k] = v
	}
	for _, k := range uiOnlyFields {
		delete(cleaned, k)
	}
	return cleaned
}

// lockConversation takes the per-conversation lock, creating it on first
// use, and returns the unlock.
func (p *Pipeline) lockConversation(key string) func() {
	p.mu.Lock()
	lock, ok := p.convLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		p.convLocks[key] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
