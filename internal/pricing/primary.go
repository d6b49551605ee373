package pricing

import (
	"sort"
	"time"

	"marketmaker/internal/models"
)

// SelectionResult - результат выбора первичной биржи
type SelectionResult struct {
	Primary  string // пусто = нет подходящей биржи
	Previous string
	Switched bool // новая непустая первичная биржа отличается от предыдущей
}

// PrimaryExchangeSelector выбирает первичную биржу пары
//
// Правила:
//   - предустановленная биржа, если она пригодна, выигрывает всегда;
//   - текущая первичная биржа сохраняется, пока пригодна (гистерезис);
//   - иначе максимальное предпочтение хеджирования, при равенстве - меньший id биржи.
//
// Владеет PrimaryExchangeState, изменяется только под блокировкой пары.
type PrimaryExchangeSelector struct {
	states *pairMap[models.PrimaryExchangeState]
}

// NewPrimaryExchangeSelector создаёт селектор
func NewPrimaryExchangeSelector() *PrimaryExchangeSelector {
	return &PrimaryExchangeSelector{
		states: newPairMap(func(assetPairID string) *models.PrimaryExchangeState {
			return &models.PrimaryExchangeState{AssetPairID: assetPairID}
		}),
	}
}

// SelectPrimary выбирает первичную биржу среди пригодных
func (s *PrimaryExchangeSelector) SelectPrimary(
	assetPairID string,
	qualities []models.ExchangeQuality,
	presetPrimary string,
	now time.Time,
) SelectionResult {
	eligible := make(map[string]models.ExchangeQuality, len(qualities))
	for _, q := range qualities {
		if q.IsEligible() {
			eligible[q.Exchange] = q
		}
	}

	state := s.states.get(assetPairID)
	current := state.Exchange

	var next string
	switch {
	case presetPrimary != "" && isEligible(eligible, presetPrimary):
		next = presetPrimary
	case current != "" && isEligible(eligible, current):
		next = current
	default:
		next = bestByPreference(eligible)
	}

	return s.commit(state, qualities, next, now)
}

// ForcePrimary устанавливает первичную биржу без проверки пригодности
//
// Используется, когда шаг выбора отключён: пара работает от предустановленной биржи.
func (s *PrimaryExchangeSelector) ForcePrimary(
	assetPairID string,
	qualities []models.ExchangeQuality,
	exchange string,
	now time.Time,
) SelectionResult {
	return s.commit(s.states.get(assetPairID), qualities, exchange, now)
}

// State возвращает копию состояния выбора
func (s *PrimaryExchangeSelector) State(assetPairID string) models.PrimaryExchangeState {
	st, ok := s.states.peek(assetPairID)
	if !ok {
		return models.PrimaryExchangeState{AssetPairID: assetPairID}
	}
	c := *st
	c.LastQualities = append([]models.ExchangeQuality(nil), st.LastQualities...)
	return c
}

func (s *PrimaryExchangeSelector) commit(
	state *models.PrimaryExchangeState,
	qualities []models.ExchangeQuality,
	next string,
	now time.Time,
) SelectionResult {
	result := SelectionResult{Primary: next, Previous: state.Exchange}

	if next != state.Exchange {
		if next != "" {
			result.Switched = true
		}
		state.Exchange = next
		state.LastSwitchTime = now
	}
	state.LastQualities = append(state.LastQualities[:0], qualities...)

	return result
}

func isEligible(eligible map[string]models.ExchangeQuality, exchange string) bool {
	_, ok := eligible[exchange]
	return ok
}

// bestByPreference - максимальное предпочтение, при равенстве лексикографически меньший id
func bestByPreference(eligible map[string]models.ExchangeQuality) string {
	if len(eligible) == 0 {
		return ""
	}

	names := make([]string, 0, len(eligible))
	for name := range eligible {
		names = append(names, name)
	}
	sort.Strings(names)

	best := names[0]
	for _, name := range names[1:] {
		if eligible[name].HedgingPreference.GreaterThan(eligible[best].HedgingPreference) {
			best = name
		}
	}
	return best
}
