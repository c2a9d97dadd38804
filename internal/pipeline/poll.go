package pipeline

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/relay/internal/config"
	"github.com/gosuda/relay/internal/domain"
)

// Transport is the subset of the agent client the pipeline depends on.
type Transport interface {
	SendMessage(ctx context.Context, msgs []domain.OutgoingMessage) ([]domain.AgentMessage, error)
	ListMessages(ctx context.Context, limit int) ([]domain.AgentMessage, error)
}

// pollState tracks the loop's progress for logging.
type pollState string

const (
	statePolling   pollState = "polling"
	stateFound     pollState = "found"
	stateExhausted pollState = "exhausted"
)

// Poller drives the wait-and-refetch cycle against the agent's message
// window until a reply appears or attempts run out. The inter-poll delay is
// fixed: the reply window is time-driven, unlike transport retries.
type Poller struct {
	Transport   Transport
	MaxAttempts int
	Delay       time.Duration
	Mode        config.PollMode
	JoinSep     string
	Limit       int

	// Sleep is swappable for tests; nil uses a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration)
}

// NewPoller builds a poller from application config.
func NewPoller(transport Transport, cfg config.PollConfig) *Poller {
	return &Poller{
		Transport:   transport,
		MaxAttempts: cfg.MaxAttempts,
		Delay:       cfg.Delay,
		Mode:        cfg.Mode,
		JoinSep:     cfg.JoinSep,
		Limit:       cfg.Limit,
	}
}

// Run resolves the reply to a request sent at after. initial is the message
// window embedded in the send response; it is checked before the first
// sleep because many replies arrive synchronously with the send. Transient
// transport errors consume an attempt and the loop continues. Exhaustion
// returns domain.ErrExhausted.
func (p *Poller) Run(ctx context.Context, initial []domain.AgentMessage, after time.Time) (string, error) {
	var accumulated []string

	if reply, done := p.inspect(initial, after, &accumulated); done {
		p.logState(stateFound, 0)
		return reply, nil
	}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		p.logState(statePolling, attempt)
		p.sleep(ctx, p.Delay)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		window, err := p.Transport.ListMessages(ctx, p.Limit)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// A failed poll burns the attempt, it does not abort the loop.
			log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", p.MaxAttempts).Msg("pipeline: poll attempt failed")
			continue
		}

		if reply, done := p.inspect(window, after, &accumulated); done {
			p.logState(stateFound, attempt)
			return reply, nil
		}
	}

	p.logState(stateExhausted, p.MaxAttempts)
	return "", domain.ErrExhausted
}

// inspect runs the extractor over one window. In first mode the first match
// finishes the loop. In accumulate mode every distinct fragment in the
// window is collected and the joined result finishes the loop as soon as
// any window produced content.
func (p *Poller) inspect(window []domain.AgentMessage, after time.Time, accumulated *[]string) (string, bool) {
	if len(window) == 0 {
		return "", false
	}

	if p.Mode == config.PollModeAccumulate {
		for _, fragment := range ExtractAll(window, after) {
			if !slices.Contains(*accumulated, fragment) {
				*accumulated = append(*accumulated, fragment)
			}
		}
		if len(*accumulated) > 0 {
			return strings.Join(*accumulated, p.JoinSep), true
		}
		return "", false
	}

	return Extract(window, after)
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(ctx, d)
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (p *Poller) logState(s pollState, attempt int) {
	log.Debug().Str("state", string(s)).Int("attempt", attempt).Msg("pipeline: poll transition")
}
