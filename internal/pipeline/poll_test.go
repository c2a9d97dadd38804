package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/relay/internal/config"
	"github.com/gosuda/relay/internal/domain"
	"github.com/gosuda/relay/internal/pipeline"
)

// mockTransport scripts ListMessages responses per poll attempt.
type mockTransport struct {
	sendResult []domain.AgentMessage
	sendErr    error
	sent       [][]domain.OutgoingMessage

	windows    []listResult
	listCalls  int
	listErrAll error
}

type listResult struct {
	msgs []domain.AgentMessage
	err  error
}

func (m *mockTransport) SendMessage(_ context.Context, msgs []domain.OutgoingMessage) ([]domain.AgentMessage, error) {
	m.sent = append(m.sent, msgs)
	return m.sendResult, m.sendErr
}

func (m *mockTransport) ListMessages(context.Context, int) ([]domain.AgentMessage, error) {
	defer func() { m.listCalls++ }()

	if m.listErrAll != nil {
		return nil, m.listErrAll
	}
	if m.listCalls < len(m.windows) {
		r := m.windows[m.listCalls]
		return r.msgs, r.err
	}
	return nil, nil
}

func noWait(context.Context, time.Duration) {}

func newPoller(transport pipeline.Transport, mode config.PollMode, attempts int) *pipeline.Poller {
	p := pipeline.NewPoller(transport, config.PollConfig{
		MaxAttempts: attempts,
		Delay:       time.Millisecond,
		Mode:        mode,
		JoinSep:     " ",
		Limit:       10,
	})
	p.Sleep = noWait
	return p
}

func TestPollerFindsReplyInInitialWindow(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{}
	p := newPoller(transport, config.PollModeFirst, 3)

	initial := []domain.AgentMessage{
		toolCallMsg(time.Second, "send_message", `{"message":"sync reply"}`),
	}

	got, err := p.Run(context.Background(), initial, baseTime)
	require.NoError(t, err)
	assert.Equal(t, "sync reply", got)
	// No poll round trips when the reply arrived with the send.
	assert.Equal(t, 0, transport.listCalls)
}

func TestPollerFindsReplyOnLaterAttempt(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		windows: []listResult{
			{msgs: nil},
			{msgs: []domain.AgentMessage{toolCallMsg(time.Second, "send_message", `{"message":"late reply"}`)}},
		},
	}
	p := newPoller(transport, config.PollModeFirst, 5)

	got, err := p.Run(context.Background(), nil, baseTime)
	require.NoError(t, err)
	assert.Equal(t, "late reply", got)
	assert.Equal(t, 2, transport.listCalls)
}

func TestPollerExhaustsAfterExactlyMaxAttempts(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		listErrAll: fmt.Errorf("list: %w", domain.ErrTimeout),
	}
	p := newPoller(transport, config.PollModeFirst, 3)

	_, err := p.Run(context.Background(), nil, baseTime)
	require.ErrorIs(t, err, domain.ErrExhausted)
	assert.Equal(t, 3, transport.listCalls)
}

func TestPollerTransientErrorConsumesAttempt(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		windows: []listResult{
			{err: errors.New("connection reset")},
			{msgs: []domain.AgentMessage{toolCallMsg(time.Second, "send_message", `{"message":"recovered"}`)}},
		},
	}
	p := newPoller(transport, config.PollModeFirst, 2)

	got, err := p.Run(context.Background(), nil, baseTime)
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
}

func TestPollerCancellationStopsPolling(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	transport := &mockTransport{}
	p := newPoller(transport, config.PollModeFirst, 100)
	p.Sleep = func(context.Context, time.Duration) { cancel() }

	_, err := p.Run(ctx, nil, baseTime)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, transport.listCalls)
}

func TestPollerAccumulateJoinsDistinctFragments(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{
		windows: []listResult{
			{msgs: []domain.AgentMessage{
				toolCallMsg(time.Second, "send_message", `{"message":"part one"}`),
				toolCallMsg(2*time.Second, "send_message", `{"message":"part two"}`),
				toolCallMsg(3*time.Second, "send_message", `{"message":"part one"}`), // duplicate dropped
			}},
		},
	}
	p := newPoller(transport, config.PollModeAccumulate, 5)

	got, err := p.Run(context.Background(), nil, baseTime)
	require.NoError(t, err)
	// Most-recent first scan order, duplicates removed, joined with the separator.
	assert.Equal(t, "part two part one", got)
	assert.Equal(t, 1, transport.listCalls)
}

func TestPollerAccumulateExhaustsWhenNothingFound(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{}
	p := newPoller(transport, config.PollModeAccumulate, 2)

	_, err := p.Run(context.Background(), nil, baseTime)
	require.ErrorIs(t, err, domain.ErrExhausted)
	assert.Equal(t, 2, transport.listCalls)
}
