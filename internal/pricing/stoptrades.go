package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/internal/models"
)

// TradingState - состояние предохранителя пары
type TradingState int

const (
	StateTrading TradingState = iota
	StateStopped
)

func (s TradingState) String() string {
	switch s {
	case StateTrading:
		return "TRADING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// TradesTransition - смена состояния предохранителя, порождает ровно одно событие
type TradesTransition struct {
	AssetPairID string
	From        TradingState
	To          TradingState
	Reason      string
	At          time.Time
}

// Stopped - переход в запрет новых сделок
func (t TradesTransition) Stopped() bool {
	return t.To == StateStopped
}

// guardState - входы текущего цикла и состояние предохранителя пары
type guardState struct {
	models.StopTradesState

	primary           string
	hedgingPreference decimal.Decimal
	primaryError      models.ExchangeErrorState
	freshCount        int
	cycleError        error
}

// StopTradesGuard - предохранитель новых сделок по паре
//
// Состояния Trading и Stopped. Stopped, если первичной биржи нет,
// у первичной биржи есть ошибка, свежих стаканов нет или цикл не смог
// построить стакан. Событие порождается только на переходе (по фронту).
// Начальное состояние - Trading.
type StopTradesGuard struct {
	states *pairMap[guardState]
}

// NewStopTradesGuard создаёт предохранитель
func NewStopTradesGuard() *StopTradesGuard {
	return &StopTradesGuard{
		states: newPairMap(func(assetPairID string) *guardState {
			return &guardState{StopTradesState: models.StopTradesState{AssetPairID: assetPairID}}
		}),
	}
}

// SetPrimaryOrderbookState задаёт первичную биржу цикла (пусто = нет первичной)
func (g *StopTradesGuard) SetPrimaryOrderbookState(
	assetPairID, exchange string,
	now time.Time,
	hedgingPreference decimal.Decimal,
	errorState *models.ExchangeErrorState,
) {
	st := g.states.get(assetPairID)
	st.primary = exchange
	st.hedgingPreference = hedgingPreference
	st.primaryError = models.ExchangeErrorNone
	if errorState != nil {
		st.primaryError = *errorState
	}
	st.cycleError = nil
	st.LastEvaluated = now
}

// SetFreshOrderbooksState задаёт свежие стаканы цикла
func (g *StopTradesGuard) SetFreshOrderbooksState(
	assetPairID string,
	fresh map[string]*models.ExternalOrderbook,
	now time.Time,
) {
	st := g.states.get(assetPairID)
	st.freshCount = len(fresh)
	st.LastEvaluated = now
}

// SetCycleError сообщает о нарушении инварианта в текущем цикле
func (g *StopTradesGuard) SetCycleError(assetPairID string, err error) {
	g.states.get(assetPairID).cycleError = err
}

// FinishCycle оценивает входы цикла и возвращает переход, если состояние изменилось
func (g *StopTradesGuard) FinishCycle(
	assetPairID string,
	primaryOrderbook *models.Orderbook,
	now time.Time,
) *TradesTransition {
	st := g.states.get(assetPairID)
	st.LastEvaluated = now

	var reason string
	switch {
	case st.primary == "":
		reason = "no eligible primary exchange"
	case st.primaryError != models.ExchangeErrorNone:
		reason = fmt.Sprintf("primary exchange %s is in error state %s", st.primary, st.primaryError)
	case st.freshCount == 0:
		reason = "no fresh orderbooks"
	case st.cycleError != nil:
		reason = fmt.Sprintf("invariant violation: %v", st.cycleError)
	case primaryOrderbook == nil:
		reason = fmt.Sprintf("no orderbook synthesized from primary exchange %s", st.primary)
	default:
		return g.transition(st, StateTrading, fmt.Sprintf(
			"primary exchange %s (hedging preference %s) with %d fresh orderbook(s)",
			st.primary, st.hedgingPreference.String(), st.freshCount,
		), now)
	}

	return g.transition(st, StateStopped, reason, now)
}

// Stop принудительно запрещает сделки (паника цикла)
func (g *StopTradesGuard) Stop(assetPairID, reason string, now time.Time) *TradesTransition {
	return g.transition(g.states.get(assetPairID), StateStopped, reason, now)
}

// Allow принудительно разрешает сделки (шаг предохранителя отключён)
func (g *StopTradesGuard) Allow(assetPairID, reason string, now time.Time) *TradesTransition {
	return g.transition(g.states.get(assetPairID), StateTrading, reason, now)
}

// State возвращает копию состояния пары
func (g *StopTradesGuard) State(assetPairID string) models.StopTradesState {
	st, ok := g.states.peek(assetPairID)
	if !ok {
		return models.StopTradesState{AssetPairID: assetPairID}
	}
	return st.StopTradesState
}

func (g *StopTradesGuard) transition(st *guardState, to TradingState, reason string, now time.Time) *TradesTransition {
	from := StateTrading
	if st.Stopped {
		from = StateStopped
	}

	st.LastEvaluated = now
	if from == to {
		if to == StateStopped {
			st.Reason = reason
		}
		return nil
	}

	st.Stopped = to == StateStopped
	st.Reason = reason
	SetTradingStopped(st.AssetPairID, st.Stopped)

	return &TradesTransition{
		AssetPairID: st.AssetPairID,
		From:        from,
		To:          to,
		Reason:      reason,
		At:          now,
	}
}
