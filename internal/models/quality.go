package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeErrorState - причина, по которой биржа не может быть первичной
type ExchangeErrorState string

// Состояния ошибок биржи
const (
	ExchangeErrorNone            ExchangeErrorState = "None"
	ExchangeErrorDisabled        ExchangeErrorState = "Disabled"        // отключена вручную
	ExchangeErrorStale           ExchangeErrorState = "Stale"           // стакан устарел
	ExchangeErrorOutlier         ExchangeErrorState = "Outlier"         // цены отклоняются от консенсуса
	ExchangeErrorRepeatedProblem ExchangeErrorState = "RepeatedProblem" // систематические выбросы/устаревание
)

// ExchangeQuality - качество биржи на текущем цикле
//
// ErrorState == nil означает, что стакан ещё не получен (оценить нечего).
type ExchangeQuality struct {
	Exchange          string              `json:"exchange"`
	HedgingPreference decimal.Decimal     `json:"hedging_preference"`
	ErrorState        *ExchangeErrorState `json:"error_state"`
	OrderbookReceived bool                `json:"orderbook_received"`
}

// IsEligible проверяет, может ли биржа быть выбрана первичной
func (q ExchangeQuality) IsEligible() bool {
	return q.OrderbookReceived && q.ErrorState != nil && *q.ErrorState == ExchangeErrorNone
}

// State возвращает состояние ошибки или None, если стакана ещё нет
func (q ExchangeQuality) State() ExchangeErrorState {
	if q.ErrorState == nil {
		return ExchangeErrorNone
	}
	return *q.ErrorState
}

// ErrorStatePtr - хелпер для заполнения ExchangeQuality.ErrorState
func ErrorStatePtr(s ExchangeErrorState) *ExchangeErrorState {
	return &s
}

// PrimaryExchangeState - состояние выбора первичной биржи по торговой паре
type PrimaryExchangeState struct {
	AssetPairID    string            `json:"asset_pair_id"`
	Exchange       string            `json:"exchange"` // пусто = первичной биржи нет
	LastSwitchTime time.Time         `json:"last_switch_time"`
	LastQualities  []ExchangeQuality `json:"last_qualities"`
}

// StopTradesState - состояние предохранителя торговли по торговой паре
type StopTradesState struct {
	AssetPairID   string    `json:"asset_pair_id"`
	Stopped       bool      `json:"stopped"`
	Reason        string    `json:"reason"`
	LastEvaluated time.Time `json:"last_evaluated"`
}

// AssetPairStatus - сводное состояние торговой пары для API
type AssetPairStatus struct {
	AssetPairID     string            `json:"asset_pair_id"`
	PrimaryExchange string            `json:"primary_exchange"`
	LastSwitchTime  time.Time         `json:"last_switch_time"`
	Qualities       []ExchangeQuality `json:"qualities"`
	TradingStopped  bool              `json:"trading_stopped"`
	StopReason      string            `json:"stop_reason,omitempty"`
	LastEvaluated   time.Time         `json:"last_evaluated"`
}

// HedgingPreference - предпочтение хеджирования биржи по паре
type HedgingPreference struct {
	AssetPairID       string             `json:"asset_pair_id"`
	Exchange          string             `json:"exchange"`
	Preference        decimal.Decimal    `json:"preference"`
	ErrorState        ExchangeErrorState `json:"error_state"`
	OrderbookReceived bool               `json:"orderbook_received"`
	IsPrimary         bool               `json:"is_primary"`
}
