package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/internal/models"
	"marketmaker/internal/pricing"
)

type fakeProcessor struct {
	result *models.Orderbook
	err    error
	got    []*models.ExternalOrderbook
}

func (p *fakeProcessor) OnNewOrderbook(_ context.Context, ob *models.ExternalOrderbook) (*models.Orderbook, error) {
	p.got = append(p.got, ob)
	return p.result, p.err
}

type fakeApplier struct {
	applied []*models.SettingsChangedMessage
	err     error
}

func (a *fakeApplier) Apply(msg *models.SettingsChangedMessage) error {
	a.applied = append(a.applied, msg)
	return a.err
}

type capturePublisher struct {
	mu     sync.Mutex
	events []models.PricingEvent
}

func (p *capturePublisher) Publish(_ context.Context, events []models.PricingEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestHandler_OrderbookPublishesCommands(t *testing.T) {
	proc := &fakeProcessor{result: &models.Orderbook{
		AssetPairID: "BTCUSD",
		Exchange:    "kraken",
		Bids:        []models.OrderbookPosition{{Price: d("100"), Volume: d("1")}, {Price: d("99"), Volume: d("2")}},
		Asks:        []models.OrderbookPosition{{Price: d("101"), Volume: d("3")}},
	}}
	pub := &capturePublisher{}
	h := NewHandler(proc, pricing.NewSpotQuoteGenerator(nil, nil), &fakeApplier{}, pub, nil)

	h.Handle(context.Background(), &Message{
		Type: MessageOrderbook,
		Orderbook: &models.ExternalExchangeOrderbookMessage{
			Source: "kraken", AssetPairID: "BTCUSD", Timestamp: time.Now(),
		},
	})

	require.Len(t, proc.got, 1)
	assert.Equal(t, "kraken", proc.got[0].ExchangeName)

	require.Len(t, pub.events, 1)
	e := pub.events[0]
	assert.Equal(t, models.EventOrderCommands, e.Kind)
	assert.Equal(t, "BTCUSD", e.AssetPairID)
	assert.NotEmpty(t, e.ID)

	require.Len(t, e.Commands, 4)
	assert.Equal(t, models.OrderCommandDelete, e.Commands[0].CommandType)
	assert.Nil(t, e.Commands[0].Direction)
	assert.Equal(t, models.DirectionBuy, *e.Commands[1].Direction)
	assert.True(t, e.Commands[2].Price.Equal(d("99")))
	assert.Equal(t, models.DirectionSell, *e.Commands[3].Direction)
	assert.True(t, e.Commands[3].Volume.Equal(d("3")))
}

func TestHandler_OrderbookWithoutResult(t *testing.T) {
	tests := []struct {
		name string
		proc *fakeProcessor
	}{
		{"no primary", &fakeProcessor{}},
		{"invalid orderbook", &fakeProcessor{err: pricing.ErrInvalidOrderbook}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &capturePublisher{}
			h := NewHandler(tt.proc, nil, nil, pub, nil)

			h.Handle(context.Background(), &Message{
				Type:      MessageOrderbook,
				Orderbook: &models.ExternalExchangeOrderbookMessage{Source: "kraken", AssetPairID: "BTCUSD"},
			})
			assert.Empty(t, pub.events)
		})
	}
}

func TestHandler_SpotTicks(t *testing.T) {
	pub := &capturePublisher{}
	h := NewHandler(&fakeProcessor{}, pricing.NewSpotQuoteGenerator(nil, nil), nil, pub, nil)

	spot := func(isBuy bool, prices ...string) *Message {
		m := &models.SpotOrderbookMessage{AssetPair: "ETHUSD", IsBuy: isBuy}
		for _, p := range prices {
			m.Prices = append(m.Prices, models.OrderbookPosition{Price: d(p), Volume: d("1")})
		}
		return &Message{Type: MessageSpot, Spot: m}
	}

	// Лучшая цена покупки - максимальная
	h.Handle(context.Background(), spot(true, "98", "100", "99"))
	require.Len(t, pub.events, 1)
	assert.True(t, pub.events[0].Commands[1].Price.Equal(d("100")))

	// Отрицательный спред: тик отложен
	h.Handle(context.Background(), spot(false, "99.5", "99"))
	assert.Len(t, pub.events, 1)

	// Лучшая цена продажи - минимальная
	h.Handle(context.Background(), spot(false, "102", "101"))
	require.Len(t, pub.events, 2)
	cmds := pub.events[1].Commands
	require.Len(t, cmds, 4)
	assert.True(t, cmds[1].Price.Equal(d("100")))
	assert.True(t, cmds[3].Price.Equal(d("101")))

	// Пустой тик игнорируется
	h.Handle(context.Background(), spot(true))
	assert.Len(t, pub.events, 2)
}

func TestHandler_Settings(t *testing.T) {
	applier := &fakeApplier{err: errors.New("invalid")}
	h := NewHandler(&fakeProcessor{}, nil, applier, nil, nil)

	msg := &models.SettingsChangedMessage{Kind: models.SettingsKindAssetPair, AssetPair: &models.AssetPairSettings{AssetPairID: "BTCUSD"}}
	h.Handle(context.Background(), &Message{Type: MessageSettings, Settings: msg})

	require.Len(t, applier.applied, 1)
	assert.Same(t, msg, applier.applied[0])
}

func TestOrderbookCommands_EmptyBook(t *testing.T) {
	cmds := OrderbookCommands(&models.Orderbook{AssetPairID: "BTCUSD"})
	require.Len(t, cmds, 1)
	assert.Equal(t, models.OrderCommandDelete, cmds[0].CommandType)
}
