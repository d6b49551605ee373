package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/internal/models"
)

type recordingHandler struct {
	mu      sync.Mutex
	byPair  map[string][]int64
	block   chan struct{}
	handled int
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{byPair: make(map[string][]int64)}
}

func (h *recordingHandler) Handle(_ context.Context, msg *Message) {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled++
	if msg.Orderbook != nil {
		h.byPair[msg.AssetPairID()] = append(h.byPair[msg.AssetPairID()], msg.Orderbook.Timestamp.UnixNano())
	}
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handled
}

func orderbookMsg(pair string, seq int) *Message {
	return &Message{
		Type: MessageOrderbook,
		Orderbook: &models.ExternalExchangeOrderbookMessage{
			Source:      "kraken",
			AssetPairID: pair,
			Timestamp:   time.Unix(0, int64(seq)),
		},
	}
}

func TestDispatcher_PreservesPerPairOrder(t *testing.T) {
	h := newRecordingHandler()
	d := NewDispatcher(4, 1000, h, nil)

	pairs := []string{"BTCUSD", "ETHUSD", "XRPUSD", "LTCUSD", "SOLUSD"}
	for i := 0; i < 100; i++ {
		for _, p := range pairs {
			require.NoError(t, d.Submit(context.Background(), orderbookMsg(p, i)))
		}
	}
	d.Close()

	for _, p := range pairs {
		seq := h.byPair[p]
		require.Len(t, seq, 100, p)
		for i := range seq {
			assert.Equal(t, int64(i), seq[i], "pair %s out of order", p)
		}
	}
}

func TestDispatcher_ShardIndexDeterministic(t *testing.T) {
	d := NewDispatcher(8, 1, newRecordingHandler(), nil)
	defer d.Close()

	for _, p := range []string{"BTCUSD", "ETHUSD", ""} {
		idx := d.ShardIndex(p)
		assert.Equal(t, idx, d.ShardIndex(p))
		assert.True(t, idx >= 0 && idx < 8)
	}
}

func TestDispatcher_CloseDrainsAndRefuses(t *testing.T) {
	h := newRecordingHandler()
	h.block = make(chan struct{})
	d := NewDispatcher(1, 10, h, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Submit(context.Background(), orderbookMsg("BTCUSD", i)))
	}

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()

	// Close ждёт обработки очереди
	select {
	case <-closed:
		t.Fatal("Close returned before queue was drained")
	case <-time.After(20 * time.Millisecond):
	}

	close(h.block)
	<-closed

	assert.Equal(t, 5, h.count())
	assert.ErrorIs(t, d.Submit(context.Background(), orderbookMsg("BTCUSD", 99)), ErrDispatcherClosed)

	// Повторный Close безопасен
	d.Close()
}

func TestDispatcher_OverflowDropsMarketDataOnly(t *testing.T) {
	h := newRecordingHandler()
	h.block = make(chan struct{})
	d := NewDispatcher(1, 1, h, nil)

	// Первое сообщение забирает воркер, второе занимает очередь
	require.NoError(t, d.Submit(context.Background(), orderbookMsg("BTCUSD", 0)))
	require.Eventually(t, func() bool {
		return d.Submit(context.Background(), orderbookMsg("BTCUSD", 1)) == nil
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, d.Submit(context.Background(), orderbookMsg("BTCUSD", 2)), ErrShardFull)

	// Настройки ждут места и уважают ctx
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	settings := &Message{Type: MessageSettings, Settings: &models.SettingsChangedMessage{Kind: models.SettingsKindAssetPair}}
	assert.ErrorIs(t, d.Submit(ctx, settings), context.DeadlineExceeded)

	close(h.block)
	d.Close()
}
