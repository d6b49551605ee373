package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StepKind - шаг конвейера расчёта цены
type StepKind string

// Шаги конвейера в порядке выполнения по умолчанию
const (
	StepStaleness        StepKind = "staleness"
	StepOutliers         StepKind = "outliers"
	StepRepeatedOutliers StepKind = "repeated_outliers"
	StepPrimarySelection StepKind = "primary_selection"
	StepArbitrageFree    StepKind = "arbitrage_free"
	StepStopTrades       StepKind = "stop_trades"
)

// AllSteps - порядок шагов конвейера
var AllSteps = []StepKind{
	StepStaleness,
	StepOutliers,
	StepRepeatedOutliers,
	StepPrimarySelection,
	StepArbitrageFree,
	StepStopTrades,
}

// IsValid проверяет, известен ли шаг
func (k StepKind) IsValid() bool {
	for _, s := range AllSteps {
		if s == k {
			return true
		}
	}
	return false
}

// StepSetting - включение/выключение одного шага
type StepSetting struct {
	Kind    StepKind `json:"kind"`
	Enabled bool     `json:"enabled"`
}

// RepeatedOutliersSettings - параметры окна повторяющихся проблем
//
// Нулевой MaxSequenceLength отключает критерий последовательности,
// нулевой MaxAvg отключает критерий среднего.
type RepeatedOutliersSettings struct {
	MaxSequenceLength int             `json:"max_sequence_length"`
	MaxSequenceAge    time.Duration   `json:"max_sequence_age"`
	MaxAvg            decimal.Decimal `json:"max_avg"`
	MaxAvgAge         time.Duration   `json:"max_avg_age"`
}

// AssetPairSettings - настройки расчёта цены по торговой паре
type AssetPairSettings struct {
	AssetPairID           string                   `json:"asset_pair_id" db:"asset_pair_id"`
	PresetPrimaryExchange string                   `json:"preset_primary_exchange"`
	OutlierThreshold      decimal.Decimal          `json:"outlier_threshold"`
	RepeatedOutliers      RepeatedOutliersSettings `json:"repeated_outliers"`
	VolumeMultiplier      decimal.Decimal          `json:"volume_multiplier"`
	Steps                 []StepSetting            `json:"steps"`
	UpdatedAt             time.Time                `json:"updated_at" db:"updated_at"`
}

// IsStepEnabled проверяет, включён ли шаг. Шаг, не упомянутый в Steps, включён.
func (s *AssetPairSettings) IsStepEnabled(kind StepKind) bool {
	for _, st := range s.Steps {
		if st.Kind == kind {
			return st.Enabled
		}
	}
	return true
}

// Clone возвращает копию настроек (Steps копируется)
func (s *AssetPairSettings) Clone() *AssetPairSettings {
	c := *s
	c.Steps = append([]StepSetting(nil), s.Steps...)
	return &c
}

// DisabledSettings - ручное отключение биржи
type DisabledSettings struct {
	IsTemporarilyDisabled bool   `json:"is_temporarily_disabled"`
	Reason                string `json:"reason"`
}

// ExchangeSettings - настройки биржи в рамках торговой пары
type ExchangeSettings struct {
	AssetPairID                 string           `json:"asset_pair_id" db:"asset_pair_id"`
	Exchange                    string           `json:"exchange" db:"exchange"`
	OrderbookOutdatingThreshold time.Duration    `json:"orderbook_outdating_threshold"`
	HedgingPreference           decimal.Decimal  `json:"hedging_preference"`
	Disabled                    DisabledSettings `json:"disabled"`
	UpdatedAt                   time.Time        `json:"updated_at" db:"updated_at"`
}

// SettingsKind - вариант сообщения об изменении настроек
type SettingsKind string

const (
	SettingsKindAssetPair SettingsKind = "asset_pair"
	SettingsKindExchange  SettingsKind = "exchange"
)

// SettingsChangedMessage - входящее изменение настроек
//
// Заполнено ровно одно поле в соответствии с Kind.
type SettingsChangedMessage struct {
	Kind      SettingsKind       `json:"kind"`
	AssetPair *AssetPairSettings `json:"asset_pair,omitempty"`
	Exchange  *ExchangeSettings  `json:"exchange,omitempty"`
}

// PairSettings - неизменяемый снимок настроек пары вместе с настройками её бирж
//
// Читается циклом расчёта без блокировок, при изменении заменяется целиком.
type PairSettings struct {
	AssetPair        AssetPairSettings           `json:"asset_pair"`
	Exchanges        map[string]ExchangeSettings `json:"exchanges"`
	ExchangeDefaults ExchangeSettings            `json:"exchange_defaults"`
}

// Exchange возвращает настройки биржи или значения по умолчанию
func (p *PairSettings) Exchange(exchange string) ExchangeSettings {
	if s, ok := p.Exchanges[exchange]; ok {
		return s
	}
	s := p.ExchangeDefaults
	s.AssetPairID = p.AssetPair.AssetPairID
	s.Exchange = exchange
	return s
}

// ExchangeNames возвращает имена настроенных бирж
func (p *PairSettings) ExchangeNames() []string {
	names := make([]string, 0, len(p.Exchanges))
	for name := range p.Exchanges {
		names = append(names, name)
	}
	return names
}
