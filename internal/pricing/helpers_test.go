package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/internal/models"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func level(price, volume string) models.OrderbookPosition {
	return models.OrderbookPosition{Price: d(price), Volume: d(volume)}
}

// book - стакан с одним уровнем на сторону
func book(pair, exchange string, at time.Time, bid, ask string) *models.ExternalOrderbook {
	return &models.ExternalOrderbook{
		AssetPairID:     pair,
		ExchangeName:    exchange,
		LastUpdatedTime: at,
		Bids:            []models.OrderbookPosition{level(bid, "1")},
		Asks:            []models.OrderbookPosition{level(ask, "1")},
	}
}

// pairSettings - настройки пары с предпочтениями бирж
func pairSettings(pair string, prefs map[string]string) *models.PairSettings {
	s := &models.PairSettings{
		AssetPair: models.AssetPairSettings{
			AssetPairID:      pair,
			OutlierThreshold: d("0.05"),
			RepeatedOutliers: models.RepeatedOutliersSettings{
				MaxSequenceLength: 10,
				MaxSequenceAge:    time.Minute,
				MaxAvg:            d("0.5"),
				MaxAvgAge:         5 * time.Minute,
			},
			VolumeMultiplier: d("1"),
		},
		Exchanges: make(map[string]models.ExchangeSettings),
		ExchangeDefaults: models.ExchangeSettings{
			AssetPairID:                 pair,
			OrderbookOutdatingThreshold: 10 * time.Second,
		},
	}
	for ex, pref := range prefs {
		s.Exchanges[ex] = models.ExchangeSettings{
			AssetPairID:                 pair,
			Exchange:                    ex,
			OrderbookOutdatingThreshold: 10 * time.Second,
			HedgingPreference:           d(pref),
		}
	}
	return s
}

func quality(exchange, pref string, state models.ExchangeErrorState) models.ExchangeQuality {
	return models.ExchangeQuality{
		Exchange:          exchange,
		HedgingPreference: d(pref),
		ErrorState:        models.ErrorStatePtr(state),
		OrderbookReceived: true,
	}
}

// fakeSettings - SettingsSource со статическими снимками
type fakeSettings struct {
	mu    sync.Mutex
	pairs map[string]*models.PairSettings
}

func newFakeSettings(pairs ...*models.PairSettings) *fakeSettings {
	f := &fakeSettings{pairs: make(map[string]*models.PairSettings)}
	for _, p := range pairs {
		f.pairs[p.AssetPair.AssetPairID] = p
	}
	return f
}

func (f *fakeSettings) PairSettings(assetPairID string) *models.PairSettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pairs[assetPairID]
}

// recordingPublisher запоминает опубликованные события
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.PricingEvent
	onPub  func()
}

func (r *recordingPublisher) Publish(_ context.Context, events []models.PricingEvent) {
	if r.onPub != nil {
		r.onPub()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingPublisher) ofKind(kind models.EventKind) []models.PricingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PricingEvent
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingPublisher) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
