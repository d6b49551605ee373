package pricing

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketmaker/internal/models"
)

// spotQuote - односторонняя котировка
type spotQuote struct {
	price  decimal.Decimal
	volume decimal.Decimal
	set    bool
}

// spotSide - последняя выставленная и отложенная котировка одной стороны
type spotSide struct {
	last    spotQuote
	pending spotQuote
}

type spotState struct {
	buy  spotSide
	sell spotSide
}

func (s *spotState) side(isBuy bool) *spotSide {
	if isBuy {
		return &s.buy
	}
	return &s.sell
}

// SpotQuoteGenerator превращает односторонние спотовые тики в двусторонние команды
//
// Тик, который дал бы отрицательный спред (ask < bid), откладывается до прихода
// парного тика и не порождает команд. Новый тик той же стороны заменяет отложенный.
// Состояние пары меняется под той же блокировкой, что и в Pipeline.
type SpotQuoteGenerator struct {
	locks  *PairLocks
	states *pairMap[spotState]
	logger *zap.Logger
}

// NewSpotQuoteGenerator создаёт генератор
func NewSpotQuoteGenerator(locks *PairLocks, logger *zap.Logger) *SpotQuoteGenerator {
	if locks == nil {
		locks = NewPairLocks()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpotQuoteGenerator{
		locks:  locks,
		states: newPairMap(func(string) *spotState { return &spotState{} }),
		logger: logger,
	}
}

// GenerateOrderCommands обрабатывает тик и возвращает команды (nil - тик отложен)
func (g *SpotQuoteGenerator) GenerateOrderCommands(
	assetPairID string,
	isBuy bool,
	price, volume decimal.Decimal,
) []models.OrderCommand {
	unlock := g.locks.Lock(assetPairID)
	defer unlock()

	st := g.states.get(assetPairID)
	own := st.side(isBuy)
	other := st.side(!isBuy)

	tick := spotQuote{price: price, volume: volume, set: true}

	complement := other.pending
	if !complement.set {
		complement = other.last
	}

	if complement.set && crossed(isBuy, tick.price, complement.price) {
		own.pending = tick
		RecordSpotQuoteBuffered(assetPairID)
		g.logger.Debug("spot tick buffered",
			zap.String("asset_pair", assetPairID),
			zap.Bool("is_buy", isBuy),
			zap.String("price", price.String()),
			zap.String("other_price", complement.price.String()),
		)
		return nil
	}

	own.last = tick
	own.pending = spotQuote{}
	if complement.set {
		other.last = complement
		other.pending = spotQuote{}
	}

	var commands []models.OrderCommand
	if st.buy.last.set {
		commands = append(commands,
			models.NewDeleteCommand(models.DirectionPtr(models.DirectionBuy)),
			models.NewSetCommand(models.DirectionBuy, st.buy.last.price, st.buy.last.volume),
		)
	}
	if st.sell.last.set {
		commands = append(commands,
			models.NewDeleteCommand(models.DirectionPtr(models.DirectionSell)),
			models.NewSetCommand(models.DirectionSell, st.sell.last.price, st.sell.last.volume),
		)
	}

	return commands
}

// Pending возвращает отложенную цену стороны
func (g *SpotQuoteGenerator) Pending(assetPairID string, isBuy bool) (decimal.Decimal, bool) {
	unlock := g.locks.Lock(assetPairID)
	defer unlock()

	st, ok := g.states.peek(assetPairID)
	if !ok {
		return decimal.Zero, false
	}
	p := st.side(isBuy).pending
	return p.price, p.set
}

// crossed - ask < bid для пары (тик, противоположная сторона)
func crossed(isBuy bool, price, otherPrice decimal.Decimal) bool {
	if isBuy {
		return otherPrice.LessThan(price)
	}
	return price.LessThan(otherPrice)
}

// BestSpotQuote выбирает цену тика: для покупки максимальную, для продажи минимальную
//
// Возвращает false для пустого списка.
func BestSpotQuote(msg *models.SpotOrderbookMessage) (models.OrderbookPosition, bool) {
	if msg == nil || len(msg.Prices) == 0 {
		return models.OrderbookPosition{}, false
	}

	best := msg.Prices[0]
	for _, p := range msg.Prices[1:] {
		if msg.IsBuy && p.Price.GreaterThan(best.Price) {
			best = p
		}
		if !msg.IsBuy && p.Price.LessThan(best.Price) {
			best = p
		}
	}
	return best, true
}
