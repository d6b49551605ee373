package feed

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketmaker/internal/models"
	"marketmaker/internal/pricing"
)

// OrderbookProcessor - конвейер расчёта цены
type OrderbookProcessor interface {
	OnNewOrderbook(ctx context.Context, ob *models.ExternalOrderbook) (*models.Orderbook, error)
}

// SpotGenerator - генератор команд по спотовым тикам
type SpotGenerator interface {
	GenerateOrderCommands(assetPairID string, isBuy bool, price, volume decimal.Decimal) []models.OrderCommand
}

// SettingsApplier применяет изменения настроек
type SettingsApplier interface {
	Apply(msg *models.SettingsChangedMessage) error
}

var (
	_ OrderbookProcessor = (*pricing.Pipeline)(nil)
	_ SpotGenerator      = (*pricing.SpotQuoteGenerator)(nil)
	_ MessageHandler     = (*Handler)(nil)
)

// Handler маршрутизирует сообщения фида в ядро ценообразования.
//
// Синтезированный стакан превращается в пакет команд: удаление всех ордеров,
// затем Set на каждый уровень. Пакет публикуется тем же Publisher, что и события конвейера.
type Handler struct {
	pipeline  OrderbookProcessor
	spot      SpotGenerator
	settings  SettingsApplier
	publisher pricing.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler создаёт обработчик сообщений фида
func NewHandler(
	pipeline OrderbookProcessor,
	spot SpotGenerator,
	settings SettingsApplier,
	publisher pricing.Publisher,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pipeline:  pipeline,
		spot:      spot,
		settings:  settings,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle обрабатывает одно сообщение
func (h *Handler) Handle(ctx context.Context, msg *Message) {
	MessagesReceived.WithLabelValues(string(msg.Type)).Inc()

	switch msg.Type {
	case MessageOrderbook:
		h.handleOrderbook(ctx, msg.Orderbook)
	case MessageSpot:
		h.handleSpot(ctx, msg.Spot)
	case MessageSettings:
		if err := h.settings.Apply(msg.Settings); err != nil {
			h.logger.Warn("settings change rejected",
				zap.String("kind", string(msg.Settings.Kind)),
				zap.Error(err),
			)
		}
	}
}

func (h *Handler) handleOrderbook(ctx context.Context, m *models.ExternalExchangeOrderbookMessage) {
	result, err := h.pipeline.OnNewOrderbook(ctx, m.ToOrderbook())
	if err != nil {
		// Причина уже залогирована конвейером
		return
	}
	if result == nil {
		return
	}

	h.publishCommands(ctx, result.AssetPairID, OrderbookCommands(result))
}

func (h *Handler) handleSpot(ctx context.Context, m *models.SpotOrderbookMessage) {
	best, ok := pricing.BestSpotQuote(m)
	if !ok {
		h.logger.Debug("empty spot tick", zap.String("asset_pair", m.AssetPair))
		return
	}

	commands := h.spot.GenerateOrderCommands(m.AssetPair, m.IsBuy, best.Price, best.Volume)
	if len(commands) == 0 {
		return
	}

	h.publishCommands(ctx, m.AssetPair, commands)
}

func (h *Handler) publishCommands(ctx context.Context, assetPairID string, commands []models.OrderCommand) {
	if h.publisher == nil {
		return
	}
	h.publisher.Publish(ctx, []models.PricingEvent{{
		ID:          uuid.NewString(),
		Kind:        models.EventOrderCommands,
		AssetPairID: assetPairID,
		Commands:    commands,
		Timestamp:   h.now(),
	}})
}

// OrderbookCommands строит пакет команд по синтезированному стакану:
// Delete обеих сторон, затем Set на каждый уровень bids и asks.
func OrderbookCommands(ob *models.Orderbook) []models.OrderCommand {
	commands := make([]models.OrderCommand, 0, 1+len(ob.Bids)+len(ob.Asks))
	commands = append(commands, models.NewDeleteCommand(nil))

	for _, lvl := range ob.Bids {
		commands = append(commands, models.NewSetCommand(models.DirectionBuy, lvl.Price, lvl.Volume))
	}
	for _, lvl := range ob.Asks {
		commands = append(commands, models.NewSetCommand(models.DirectionSell, lvl.Price, lvl.Volume))
	}

	return commands
}
