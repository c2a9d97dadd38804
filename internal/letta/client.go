package letta

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/gosuda/relay/internal/config"
	"github.com/gosuda/relay/internal/domain"
)

// Options is the immutable connection configuration for one Client.
// Reconfiguration constructs a new Client; nothing is mutated in place.
type Options struct {
	BaseURL        string
	AgentID        string
	Password       string
	TLSInsecure    bool
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// Retry governs transport-level retries. Zero value means no retries.
	Retry Policy
}

// OptionsFromConfig builds transport options from application config, with
// an exponential transport retry policy layered on top of the config's
// request timeouts. The poll cadence stays fixed and lives in the poller.
func OptionsFromConfig(cfg config.AgentConfig) Options {
	return Options{
		BaseURL:        cfg.BaseURL,
		AgentID:        cfg.AgentID,
		Password:       cfg.Password,
		TLSInsecure:    cfg.TLSInsecure,
		ConnectTimeout: cfg.ConnectTimeout,
		RequestTimeout: cfg.RequestTimeout,
		Retry: Policy{
			MaxAttempts: 3,
			Backoff:     BackoffExponential,
			Base:        time.Second,
			Retryable:   domain.Retryable,
		},
	}
}

// Client issues the two message operations against a remote agent service:
// post a new message and list recent messages. It owns connection
// configuration and never mutates remote state outside SendMessage.
type Client struct {
	opts    Options
	http    *http.Client
	stream  *http.Client
	breaker *gobreaker.CircuitBreaker[[]domain.AgentMessage]
}

// New constructs a Client from options.
func New(opts Options) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: opts.ConnectTimeout,
		}).DialContext,
	}
	if opts.TLSInsecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit operator opt-in for self-signed agents
	}

	c := &Client{
		opts: opts,
		http: &http.Client{
			Transport: transport,
			Timeout:   opts.RequestTimeout,
		},
		// Streaming responses have no overall deadline; cancellation comes
		// from the caller's context.
		stream: &http.Client{
			Transport: transport,
		},
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]domain.AgentMessage](gobreaker.Settings{
		Name:    "letta-" + opts.AgentID,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("letta: circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// Client-side statuses are our fault, not the agent's.
			return err == nil || !domain.Retryable(err)
		},
	})

	return c
}

// AgentID returns the conversation id this client is bound to.
func (c *Client) AgentID() string { return c.opts.AgentID }

func (c *Client) messagesURL() string {
	return c.opts.BaseURL + "/v1/agents/" + c.opts.AgentID + "/messages"
}

// SendMessage posts msgs as one new turn on the remote conversation and
// returns any agent messages embedded in the send response. Many replies
// arrive synchronously with the send, so the caller should inspect the
// returned window before polling.
func (c *Client) SendMessage(ctx context.Context, msgs []domain.OutgoingMessage) ([]domain.AgentMessage, error) {
	if len(msgs) == 0 {
		return nil, errors.New("letta.Client.SendMessage: no messages")
	}
	for _, m := range msgs {
		if m.Text == "" {
			return nil, errors.New("letta.Client.SendMessage: empty message text")
		}
	}

	body, err := json.Marshal(map[string]any{"messages": msgs})
	if err != nil {
		return nil, fmt.Errorf("letta.Client.SendMessage: marshal: %w", err)
	}

	out, err := c.execute(ctx, http.MethodPost, c.messagesURL(), body)
	if err != nil {
		return nil, fmt.Errorf("letta.Client.SendMessage: %w", err)
	}
	return out, nil
}

// ListMessages fetches the most recent window of the conversation. The
// window is not ordered for the caller; filtering and tie-breaks by
// timestamp are the extractor's job. Read-only.
func (c *Client) ListMessages(ctx context.Context, limit int) ([]domain.AgentMessage, error) {
	url := c.messagesURL() + "?limit=" + strconv.Itoa(limit)

	out, err := c.execute(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("letta.Client.ListMessages: %w", err)
	}
	return out, nil
}

// execute runs one operation through the circuit breaker and retry policy.
func (c *Client) execute(ctx context.Context, method, url string, body []byte) ([]domain.AgentMessage, error) {
	return c.breaker.Execute(func() ([]domain.AgentMessage, error) {
		var out []domain.AgentMessage
		err := c.opts.Retry.Do(ctx, func() error {
			var doErr error
			out, doErr = c.doRequest(ctx, method, url, body)
			return doErr
		})
		return out, err
	})
}

// doRequest performs a single HTTP round trip and decodes the message window.
func (c *Client) doRequest(ctx context.Context, method, url string, body []byte) ([]domain.AgentMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, false)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.StatusError{Code: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	msgs, err := decodeMessages(respBody)
	if err != nil {
		// A malformed window is a skip for this attempt, not a poison pill:
		// the next poll refetches everything.
		log.Warn().Err(err).Str("url", url).Msg("letta: malformed message payload")
		return nil, nil
	}

	return msgs, nil
}

func (c *Client) setHeaders(req *http.Request, streaming bool) {
	req.Header.Set("Content-Type", "application/json")
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}
	if c.opts.Password != "" {
		req.Header.Set("X-BARE-PASSWORD", "password "+c.opts.Password)
	}
}

// classifyTransportError maps low-level client errors onto the domain
// taxonomy: context loss stays as-is, timeouts become ErrTimeout, the rest
// surface as network errors.
func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s", domain.ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", domain.ErrTimeout, err)
	}

	return fmt.Errorf("network: %w", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
