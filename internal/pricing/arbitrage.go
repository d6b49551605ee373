package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/internal/models"
)

// ArbitrageFreeSynthesizer строит публикуемый стакан из стакана первичной биржи
//
// Лучший bid опускается до min(bid первичной, min(ask остальных)),
// лучший ask поднимается до max(ask первичной, max(bid остальных)).
// Более глубокие уровни сдвигаются на ту же величину, что и лучший уровень.
// Уровни, цена которых после сдвига стала неположительной, отбрасываются.
type ArbitrageFreeSynthesizer struct{}

// NewArbitrageFreeSynthesizer создаёт синтезатор
func NewArbitrageFreeSynthesizer() *ArbitrageFreeSynthesizer {
	return &ArbitrageFreeSynthesizer{}
}

// Transform строит безарбитражный стакан
//
// others - лучшие цены остальных пригодных бирж (без первичной).
// Возвращает ErrNegativeSpread, если результат всё равно пересечён.
func (s *ArbitrageFreeSynthesizer) Transform(
	primary *models.ExternalOrderbook,
	others map[string]models.BestPrices,
	volumeMultiplier decimal.Decimal,
	now time.Time,
) (*models.Orderbook, error) {
	bestBid := primary.BestBid()
	bestAsk := primary.BestAsk()

	newBid := bestBid
	newAsk := bestAsk
	for _, p := range others {
		if p.BestAsk.IsPositive() && p.BestAsk.LessThan(newBid) {
			newBid = p.BestAsk
		}
		if p.BestBid.GreaterThan(newAsk) {
			newAsk = p.BestBid
		}
	}

	result := &models.Orderbook{
		AssetPairID: primary.AssetPairID,
		Exchange:    primary.ExchangeName,
		Timestamp:   now,
		Bids:        shiftLevels(primary.Bids, newBid.Sub(bestBid), volumeMultiplier),
		Asks:        shiftLevels(primary.Asks, newAsk.Sub(bestAsk), volumeMultiplier),
	}

	if len(result.Bids) > 0 && len(result.Asks) > 0 && result.BestBid().GreaterThan(result.BestAsk()) {
		return result, fmt.Errorf("%w: %s bid %s > ask %s (primary %s)",
			ErrNegativeSpread, primary.AssetPairID, result.BestBid(), result.BestAsk(), primary.ExchangeName)
	}

	return result, nil
}

// PassThrough копирует стакан первичной биржи без сдвига (шаг отключён)
func (s *ArbitrageFreeSynthesizer) PassThrough(
	primary *models.ExternalOrderbook,
	volumeMultiplier decimal.Decimal,
	now time.Time,
) *models.Orderbook {
	return &models.Orderbook{
		AssetPairID: primary.AssetPairID,
		Exchange:    primary.ExchangeName,
		Timestamp:   now,
		Bids:        shiftLevels(primary.Bids, decimal.Zero, volumeMultiplier),
		Asks:        shiftLevels(primary.Asks, decimal.Zero, volumeMultiplier),
	}
}

func shiftLevels(levels []models.OrderbookPosition, delta, volumeMultiplier decimal.Decimal) []models.OrderbookPosition {
	if !volumeMultiplier.IsPositive() {
		volumeMultiplier = decimal.NewFromInt(1)
	}

	out := make([]models.OrderbookPosition, 0, len(levels))
	for _, l := range levels {
		price := l.Price.Add(delta)
		if !price.IsPositive() {
			continue
		}
		out = append(out, models.OrderbookPosition{
			Price:  price,
			Volume: l.Volume.Mul(volumeMultiplier),
		})
	}
	return out
}
