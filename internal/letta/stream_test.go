package letta_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/relay/internal/domain"
	"github.com/gosuda/relay/internal/letta"
)

func sseBody(frames ...string) string {
	var out string
	for _, f := range frames {
		out += "data: " + f + "\n\n"
	}
	return out
}

func TestStreamMessages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agents/agent-test/messages/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sseBody(
			`{"message_type":"assistant_message","assistant_message":"Hello"}`,
			`{"message_type":"usage_statistics"}`,
			`{not json`,
			`{"message_type":"assistant_message","assistant_message":"world"}`,
			`[DONE]`,
			`{"message_type":"assistant_message","assistant_message":"after done, never seen"}`,
		)))
	}))
	defer srv.Close()

	client := letta.New(testOptions(srv.URL))

	var got []domain.AgentMessage
	err := client.StreamMessages(context.Background(), []domain.OutgoingMessage{
		{Role: domain.RoleUser, Text: "hi"},
	}, func(m domain.AgentMessage) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)

	// Unparseable frames are skipped; [DONE] terminates the stream.
	require.Len(t, got, 3)
	assert.Equal(t, "Hello", got[0].Text)
	assert.Equal(t, domain.KindUnknown, got[1].Kind)
	assert.Equal(t, "world", got[2].Text)
}

func TestStreamMessagesConsumerStop(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sseBody(
			`{"message_type":"assistant_message","assistant_message":"one"}`,
			`{"message_type":"assistant_message","assistant_message":"two"}`,
		)))
	}))
	defer srv.Close()

	client := letta.New(testOptions(srv.URL))

	var count int
	err := client.StreamMessages(context.Background(), []domain.OutgoingMessage{
		{Role: domain.RoleUser, Text: "hi"},
	}, func(domain.AgentMessage) error {
		count++
		return letta.ErrStreamStopped
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStreamMessagesStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := letta.New(testOptions(srv.URL))

	err := client.StreamMessages(context.Background(), []domain.OutgoingMessage{
		{Role: domain.RoleUser, Text: "hi"},
	}, func(domain.AgentMessage) error { return nil })

	var se *domain.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
}
