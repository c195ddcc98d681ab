package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

type captureSender struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (c *captureSender) Send(_ context.Context, title, message string) error {
	c.titles = append(c.titles, title)
	c.bodies = append(c.bodies, message)
	return c.err
}

func (c *captureSender) Name() string { return c.name }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublishFiltersByEventName(t *testing.T) {
	s := &captureSender{name: "cap"}
	n := NewNotifier([]Sender{s}, []string{domain.EventEmergencyHaltToggled, " "}, quietLogger())

	require.NoError(t, n.Publish(context.Background(),
		domain.ArbitrageExecuted{AttemptID: "a-1", Profit: big.NewInt(1)},
		domain.EmergencyHaltToggled{Halted: true},
	))
	require.Equal(t, []string{"Emergency halt ENGAGED"}, s.titles)
	assert.Contains(t, s.bodies[0], "halted=true")
}

func TestPublishWithoutFilterDescribesAttempts(t *testing.T) {
	s := &captureSender{name: "cap"}
	n := NewNotifier([]Sender{s}, nil, quietLogger())

	require.NoError(t, n.Publish(context.Background(), domain.ArbitrageExecuted{
		AttemptID: "a-9", Profit: big.NewInt(40), NetProfit: big.NewInt(39), Premium: big.NewInt(1), Steps: 2,
	}))
	require.Len(t, s.bodies, 1)
	assert.Contains(t, s.bodies[0], "attempt a-9")
	assert.Contains(t, s.bodies[0], "net 39")
}

func TestDispatchKeepsGoingAfterFailure(t *testing.T) {
	bad := &captureSender{name: "bad", err: errors.New("down")}
	good := &captureSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Publish(context.Background(), domain.Withdrawn{Amount: big.NewInt(3)})
	require.ErrorContains(t, err, "bad: down")
	assert.Len(t, good.titles, 1)
}

func TestDiscordSenderPostsContent(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "T", "body"))
	assert.Equal(t, "**T**\nbody", got["content"])
}

func TestDiscordSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "T", "body")
	require.ErrorContains(t, err, "unexpected status 400")
}
