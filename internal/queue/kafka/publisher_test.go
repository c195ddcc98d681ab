package kafka

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishKeysByAttempt(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w, topic: "t"}

	err := p.Publish(context.Background(),
		domain.FlashLoanExecuted{AttemptID: "a-1", Amount: big.NewInt(1), Premium: big.NewInt(0)},
		domain.ArbitrageExecuted{AttemptID: "a-1", Profit: big.NewInt(2)},
		domain.EmergencyHaltToggled{Halted: true},
	)
	require.NoError(t, err)
	require.Len(t, w.msgs, 3)

	assert.Equal(t, "a-1", string(w.msgs[0].Key))
	assert.Equal(t, "a-1", string(w.msgs[1].Key))
	assert.Equal(t, domain.EventEmergencyHaltToggled, string(w.msgs[2].Key))
	assert.Equal(t, domain.EventArbitrageExecuted, string(w.msgs[1].Headers[0].Value))
	assert.Contains(t, string(w.msgs[1].Value), `"type":"arbitrage_executed"`)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Publisher{writer: &fakeWriter{err: boom}, topic: "t"}

	err := p.Publish(context.Background(), domain.Withdrawn{Amount: big.NewInt(1)})
	require.ErrorIs(t, err, boom)
	assert.NoError(t, p.Publish(context.Background()))
}

func TestNewPublisherValidates(t *testing.T) {
	_, err := NewPublisher(Config{Topic: "t"})
	require.Error(t, err)
	_, err = NewPublisher(Config{Brokers: []string{"localhost:9092"}})
	require.Error(t, err)
}
