package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind - тип события ядра ценообразования
type EventKind string

const (
	EventPrimaryExchangeSwitched EventKind = "primary_exchange_switched"
	EventStopNewTrades           EventKind = "stop_new_trades"
	EventAllowNewTrades          EventKind = "allow_new_trades"
	EventOrderCommands           EventKind = "order_commands"
)

// PricingEvent - событие, порождённое циклом расчёта
//
// События собираются под блокировкой пары и публикуются после её снятия.
type PricingEvent struct {
	ID          string            `json:"id"`
	Kind        EventKind         `json:"kind"`
	AssetPairID string            `json:"asset_pair_id"`
	Reason      string            `json:"reason,omitempty"`
	NewPrimary  string            `json:"new_primary,omitempty"`
	Qualities   []ExchangeQuality `json:"qualities,omitempty"`
	Commands    []OrderCommand    `json:"commands,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// ============================================================
// Входящие сообщения
// ============================================================

// ExternalExchangeOrderbookMessage - стакан внешней биржи из фида
type ExternalExchangeOrderbookMessage struct {
	Source      string              `json:"source"`
	AssetPairID string              `json:"assetPairId"`
	Timestamp   time.Time           `json:"timestamp"`
	Asks        []OrderbookPosition `json:"asks"`
	Bids        []OrderbookPosition `json:"bids"`
}

// ToOrderbook преобразует сообщение в ExternalOrderbook
func (m *ExternalExchangeOrderbookMessage) ToOrderbook() *ExternalOrderbook {
	return &ExternalOrderbook{
		AssetPairID:     m.AssetPairID,
		ExchangeName:    m.Source,
		LastUpdatedTime: m.Timestamp,
		Bids:            m.Bids,
		Asks:            m.Asks,
	}
}

// SpotOrderbookMessage - односторонний спотовый стакан
type SpotOrderbookMessage struct {
	AssetPair string              `json:"assetPair"`
	IsBuy     bool                `json:"isBuy"`
	Timestamp time.Time           `json:"timestamp"`
	Prices    []OrderbookPosition `json:"prices"`
}

// ============================================================
// Исходящие сообщения
// ============================================================

// ExchangeQualityMessage - состояние биржи в сообщении о смене первичной биржи
type ExchangeQualityMessage struct {
	Exchange          string          `json:"exchange"`
	HedgingPreference decimal.Decimal `json:"hedgingPreference"`
	ErrorState        string          `json:"errorState,omitempty"`
	OrderbookReceived bool            `json:"orderbookReceived"`
}

// PrimaryExchangeSwitchedMessage - смена первичной биржи
type PrimaryExchangeSwitchedMessage struct {
	MarketMakerID      string                   `json:"marketMakerId"`
	AssetPairID        string                   `json:"assetPairId"`
	NewPrimaryExchange ExchangeQualityMessage   `json:"newPrimaryExchange"`
	AllExchangesStates []ExchangeQualityMessage `json:"allExchangesStates"`
}

// StopNewTradesMessage - запрет новых сделок
type StopNewTradesMessage struct {
	AssetPairID   string `json:"assetPairId"`
	MarketMakerID string `json:"marketMakerId"`
	Reason        string `json:"reason"`
}

// StopOrAllowNewTradesMessage - запрет или разрешение новых сделок
type StopOrAllowNewTradesMessage struct {
	AssetPairID   string `json:"assetPairId"`
	MarketMakerID string `json:"marketMakerId"`
	Reason        string `json:"reason"`
	Stop          bool   `json:"stop"`
}

// OrderCommandType - тип команды
type OrderCommandType string

const (
	OrderCommandSet    OrderCommandType = "Set"
	OrderCommandDelete OrderCommandType = "Delete"
)

// OrderDirection - сторона ордера
type OrderDirection string

const (
	DirectionBuy  OrderDirection = "Buy"
	DirectionSell OrderDirection = "Sell"
)

// OrderCommand - команда слою ордеров
//
// Direction == nil у Delete означает удаление обеих сторон.
type OrderCommand struct {
	CommandType OrderCommandType `json:"commandType"`
	Direction   *OrderDirection  `json:"direction,omitempty"`
	Volume      *decimal.Decimal `json:"volume,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
}

// OrderCommandsBatchMessage - пакет команд по торговой паре
type OrderCommandsBatchMessage struct {
	AssetPairID   string         `json:"assetPairId"`
	Timestamp     time.Time      `json:"timestamp"`
	MarketMakerID string         `json:"marketMakerId"`
	Commands      []OrderCommand `json:"commands"`
}

// NewDeleteCommand создаёт команду удаления стороны (nil - обе стороны)
func NewDeleteCommand(direction *OrderDirection) OrderCommand {
	return OrderCommand{CommandType: OrderCommandDelete, Direction: direction}
}

// NewSetCommand создаёт команду выставления уровня
func NewSetCommand(direction OrderDirection, price, volume decimal.Decimal) OrderCommand {
	d := direction
	p := price
	v := volume
	return OrderCommand{CommandType: OrderCommandSet, Direction: &d, Price: &p, Volume: &v}
}

// DirectionPtr - хелпер для OrderCommand.Direction
func DirectionPtr(d OrderDirection) *OrderDirection {
	return &d
}

// EventRecord - запись журнала событий (таблица pricing_events)
type EventRecord struct {
	ID          int64           `json:"id" db:"id"`
	EventID     string          `json:"event_id" db:"event_id"`
	Kind        EventKind       `json:"kind" db:"kind"`
	AssetPairID string          `json:"asset_pair_id" db:"asset_pair_id"`
	Payload     json.RawMessage `json:"payload" db:"payload"` // исходящее сообщение в JSON
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Topic - тема исходящего сообщения в очереди
type Topic string

// Темы исходящих сообщений (префикс задаётся транспортом)
const (
	TopicPrimaryExchangeSwitched Topic = "primary-exchange-switched"
	TopicStopNewTrades           Topic = "stop-new-trades"
	TopicStopOrAllowNewTrades    Topic = "stop-or-allow-new-trades"
	TopicOrderCommands           Topic = "order-commands"
)

// OutboundMessage - исходящее сообщение, готовое к отправке
//
// AssetPairID служит ключом партиционирования: порядок сообщений пары сохраняется.
type OutboundMessage struct {
	Topic       Topic       `json:"topic"`
	AssetPairID string      `json:"asset_pair_id"`
	Payload     interface{} `json:"payload"`
}
