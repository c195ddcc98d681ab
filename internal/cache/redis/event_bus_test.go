package redis

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

func TestStreamArgsCarryEnvelope(t *testing.T) {
	ev := domain.ArbitrageExecuted{
		AttemptID: "attempt-7",
		BaseToken: common.HexToAddress("0xe1"),
		Profit:    big.NewInt(40),
		NetProfit: big.NewInt(39),
		Premium:   big.NewInt(1),
		Borrowed:  true,
		Steps:     2,
	}
	payload, err := domain.EncodeEvent(ev)
	require.NoError(t, err)

	args := streamArgs(EventBusConfig{Stream: "s", StreamMaxLen: 5}, ev, payload)
	assert.Equal(t, "s", args.Stream)
	assert.Equal(t, int64(5), args.MaxLen)
	assert.True(t, args.Approx)

	values := args.Values.(map[string]interface{})
	assert.Equal(t, domain.EventArbitrageExecuted, values["type"])
	assert.Equal(t, "attempt-7", values["key"])

	var env domain.Envelope
	require.NoError(t, json.Unmarshal(values["payload"].([]byte), &env))
	assert.Equal(t, domain.EventArbitrageExecuted, env.Type)

	var got domain.ArbitrageExecuted
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, int64(39), got.NetProfit.Int64())
}

func TestNewEventBusDefaultsMaxLen(t *testing.T) {
	b := NewEventBus(&Client{}, EventBusConfig{Channel: "c"})
	assert.Equal(t, int64(10000), b.cfg.StreamMaxLen)
}
