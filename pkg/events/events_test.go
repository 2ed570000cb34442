package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestBusFansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	bus := NewBus(a)
	bus.Attach(b)

	bus.Emit(New(KindBatchSettled, BatchSettled{Token: common.HexToHash("0x1"), Success: true}))
	bus.Emit(New(KindOrderCancelled, OrderCancelled{}))

	assert.Len(t, a.Events(), 2)
	assert.Len(t, b.Events(KindBatchSettled), 1)
	assert.Empty(t, b.Events(KindEscrowFeeChanged))
}

func TestEventIDsSortByCreation(t *testing.T) {
	e1 := New(KindOrderValidated, nil)
	e2 := New(KindOrderValidated, nil)
	assert.NotEqual(t, e1.ID, e2.ID)
	assert.LessOrEqual(t, e1.ID[:10], e2.ID[:10])
}

func TestChannels(t *testing.T) {
	assert.Equal(t, ChannelBatches, KindBatchSettled.Channel())
	assert.Equal(t, ChannelFees, KindEscrowFeeChanged.Channel())
	assert.Equal(t, ChannelFees, KindOrderRequested.Channel())
	assert.Equal(t, ChannelOrders, KindOrderFulfilled.Channel())
}

func TestKafkaSinkPublishesInOrder(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w, zap.NewNop().Sugar())
	sink.Emit(New(KindBatchPrepared, BatchPrepared{Token: common.HexToHash("0x2")}))
	sink.Emit(New(KindBatchSettled, BatchSettled{Token: common.HexToHash("0x2"), Success: false}))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	require.Len(t, w.msgs, 2)
	assert.True(t, w.closed)
	assert.Equal(t, "batch_prepared", string(w.msgs[0].Key))

	var ev struct {
		Kind Kind `json:"kind"`
		Data struct {
			Success bool `json:"success"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &ev))
	assert.Equal(t, KindBatchSettled, ev.Kind)
	assert.False(t, ev.Data.Success)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	LogSink{Logger: zap.New(core).Sugar()}.Emit(New(KindMemberChanged, MemberChanged{Added: true}))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "member_changed", entries[0].Message)
}
