package service

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketmaker/internal/config"
	"marketmaker/internal/models"
)

// Ошибки сервиса настроек
var (
	ErrInvalidSettings      = errors.New("invalid settings")
	ErrUnknownSettingsKind  = errors.New("unknown settings kind")
	ErrSettingsNotPersisted = errors.New("settings not persisted")
)

// settingsSnapshot - неизменяемый снимок всех сохранённых настроек
type settingsSnapshot struct {
	pairs map[string]*models.PairSettings
}

// SettingsProvider предоставляет настройки расчёта цены по торговым парам.
//
// Отвечает за:
// - Ленивую загрузку всех настроек из БД при первом чтении
// - Чтение без блокировок: снимок заменяется атомарно при изменении
// - Подстановку значений по умолчанию для пар и бирж без настроек
// - Валидацию и сохранение изменений
//
// Запись сначала идёт в БД, затем публикуется новый снимок.
type SettingsProvider struct {
	repo     SettingsRepositoryInterface
	defaults config.PricingConfig
	logger   *zap.Logger
	problems ProblemResetter

	snapshot atomic.Pointer[settingsSnapshot]
	writeMu  sync.Mutex
}

// NewSettingsProvider создает новый экземпляр SettingsProvider.
func NewSettingsProvider(repo SettingsRepositoryInterface, defaults config.PricingConfig, logger *zap.Logger) *SettingsProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsProvider{
		repo:     repo,
		defaults: defaults,
		logger:   logger,
	}
}

// SetProblemResetter устанавливает получателя ручных включений бирж (nil - не уведомлять)
func (p *SettingsProvider) SetProblemResetter(r ProblemResetter) {
	p.problems = r
}

// ============================================================
// Чтение
// ============================================================

// PairSettings возвращает снимок настроек пары для цикла расчёта.
//
// Никогда не возвращает nil: при ошибке загрузки используются значения по умолчанию.
func (p *SettingsProvider) PairSettings(assetPairID string) *models.PairSettings {
	snap, err := p.load()
	if err != nil {
		p.logger.Warn("settings unavailable, using defaults",
			zap.String("asset_pair", assetPairID),
			zap.Error(err),
		)
		return p.defaultPair(assetPairID)
	}

	if ps, ok := snap.pairs[assetPairID]; ok {
		return ps
	}
	return p.defaultPair(assetPairID)
}

// Get возвращает настройки пары (сохранённые или по умолчанию)
func (p *SettingsProvider) Get(assetPairID string) (*models.PairSettings, error) {
	snap, err := p.load()
	if err != nil {
		return nil, err
	}
	if ps, ok := snap.pairs[assetPairID]; ok {
		return clonePair(ps), nil
	}
	return p.defaultPair(assetPairID), nil
}

// GetExchange возвращает настройки биржи в паре
func (p *SettingsProvider) GetExchange(assetPairID, exchange string) (models.ExchangeSettings, error) {
	ps, err := p.Get(assetPairID)
	if err != nil {
		return models.ExchangeSettings{}, err
	}
	return ps.Exchange(exchange), nil
}

// GetExchanges возвращает сохранённые настройки бирж пары, отсортированные по имени
func (p *SettingsProvider) GetExchanges(assetPairID string) ([]models.ExchangeSettings, error) {
	ps, err := p.Get(assetPairID)
	if err != nil {
		return nil, err
	}

	names := ps.ExchangeNames()
	sort.Strings(names)

	result := make([]models.ExchangeSettings, 0, len(names))
	for _, name := range names {
		result = append(result, ps.Exchanges[name])
	}
	return result, nil
}

// GetAll возвращает настройки всех пар, для которых что-либо сохранено
func (p *SettingsProvider) GetAll() ([]*models.PairSettings, error) {
	snap, err := p.load()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(snap.pairs))
	for id := range snap.pairs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]*models.PairSettings, 0, len(ids))
	for _, id := range ids {
		result = append(result, clonePair(snap.pairs[id]))
	}
	return result, nil
}

// ============================================================
// Запись
// ============================================================

// Update валидирует и сохраняет настройки пары.
//
// Незаданные поля (нулевые значения) заменяются значениями по умолчанию,
// см. fillAssetPairDefaults. Пустой список шагов означает "все шаги включены".
func (p *SettingsProvider) Update(settings *models.AssetPairSettings) (*models.AssetPairSettings, error) {
	if settings == nil {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidSettings)
	}

	s := settings.Clone()
	if err := p.normalizeAssetPair(s); err != nil {
		return nil, err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	snap, err := p.load()
	if err != nil {
		return nil, err
	}

	if err := p.repo.UpsertAssetPair(s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSettingsNotPersisted, err)
	}

	next := p.pairForWrite(snap, s.AssetPairID)
	next.AssetPair = *s
	p.swap(snap, next)

	p.logger.Info("asset pair settings updated", zap.String("asset_pair", s.AssetPairID))
	return s.Clone(), nil
}

// UpdateExchange валидирует и сохраняет настройки биржи в паре
func (p *SettingsProvider) UpdateExchange(settings *models.ExchangeSettings) (*models.ExchangeSettings, error) {
	if settings == nil {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidSettings)
	}

	s := *settings
	if err := p.normalizeExchange(&s); err != nil {
		return nil, err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	return p.saveExchange(&s)
}

// SetExchangeDisabled включает или отключает биржу в паре вручную
func (p *SettingsProvider) SetExchangeDisabled(assetPairID, exchange string, disabled bool, reason string) (*models.ExchangeSettings, error) {
	if assetPairID == "" || exchange == "" {
		return nil, fmt.Errorf("%w: asset pair and exchange are required", ErrInvalidSettings)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	snap, err := p.load()
	if err != nil {
		return nil, err
	}

	current := p.defaultPair(assetPairID).Exchange(exchange)
	if ps, ok := snap.pairs[assetPairID]; ok {
		current = ps.Exchange(exchange)
	}

	current.Disabled = models.DisabledSettings{IsTemporarilyDisabled: disabled}
	if disabled {
		current.Disabled.Reason = reason
	}

	saved, err := p.saveExchange(&current)
	if err != nil {
		return nil, err
	}

	p.logger.Info("exchange disabled flag changed",
		zap.String("asset_pair", assetPairID),
		zap.String("exchange", exchange),
		zap.Bool("disabled", disabled),
		zap.String("reason", reason),
	)
	return saved, nil
}

// Apply применяет входящее сообщение об изменении настроек
func (p *SettingsProvider) Apply(msg *models.SettingsChangedMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: empty message", ErrInvalidSettings)
	}

	switch msg.Kind {
	case models.SettingsKindAssetPair:
		if msg.AssetPair == nil {
			return fmt.Errorf("%w: asset_pair payload missing", ErrInvalidSettings)
		}
		_, err := p.Update(msg.AssetPair)
		return err
	case models.SettingsKindExchange:
		if msg.Exchange == nil {
			return fmt.Errorf("%w: exchange payload missing", ErrInvalidSettings)
		}
		_, err := p.UpdateExchange(msg.Exchange)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSettingsKind, msg.Kind)
	}
}

// Reset удаляет сохранённые настройки пары и её бирж (возврат к значениям по умолчанию)
func (p *SettingsProvider) Reset(assetPairID string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	snap, err := p.load()
	if err != nil {
		return err
	}

	if err := p.repo.DeleteAssetPair(assetPairID); err != nil {
		return err
	}

	pairs := make(map[string]*models.PairSettings, len(snap.pairs))
	for id, ps := range snap.pairs {
		if id != assetPairID {
			pairs[id] = ps
		}
	}
	p.snapshot.Store(&settingsSnapshot{pairs: pairs})

	p.logger.Info("asset pair settings reset", zap.String("asset_pair", assetPairID))
	return nil
}

// ResetExchange удаляет сохранённые настройки биржи в паре
func (p *SettingsProvider) ResetExchange(assetPairID, exchange string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	snap, err := p.load()
	if err != nil {
		return err
	}

	if err := p.repo.DeleteExchange(assetPairID, exchange); err != nil {
		return err
	}

	if _, ok := snap.pairs[assetPairID]; ok {
		next := p.pairForWrite(snap, assetPairID)
		delete(next.Exchanges, exchange)
		p.swap(snap, next)
	}

	p.logger.Info("exchange settings reset",
		zap.String("asset_pair", assetPairID),
		zap.String("exchange", exchange),
	)
	return nil
}

// Invalidate сбрасывает кэш: следующее чтение загрузит настройки из БД
func (p *SettingsProvider) Invalidate() {
	p.snapshot.Store(nil)
	p.logger.Info("settings cache invalidated")
}

// ============================================================
// Внутренние методы
// ============================================================

// load возвращает текущий снимок, загружая его из БД при необходимости
func (p *SettingsProvider) load() (*settingsSnapshot, error) {
	if snap := p.snapshot.Load(); snap != nil {
		return snap, nil
	}

	assetPairs, err := p.repo.GetAllAssetPairs()
	if err != nil {
		return nil, fmt.Errorf("load asset pair settings: %w", err)
	}
	exchanges, err := p.repo.GetAllExchanges()
	if err != nil {
		return nil, fmt.Errorf("load exchange settings: %w", err)
	}

	pairs := make(map[string]*models.PairSettings, len(assetPairs))
	for _, ap := range assetPairs {
		ps := p.defaultPair(ap.AssetPairID)
		ps.AssetPair = *ap.Clone()
		p.fillAssetPairDefaults(&ps.AssetPair)
		pairs[ap.AssetPairID] = ps
	}
	for _, ex := range exchanges {
		ps, ok := pairs[ex.AssetPairID]
		if !ok {
			ps = p.defaultPair(ex.AssetPairID)
			pairs[ex.AssetPairID] = ps
		}
		ps.Exchanges[ex.Exchange] = *ex
	}

	snap := &settingsSnapshot{pairs: pairs}

	// Параллельная загрузка: побеждает первый сохранённый снимок
	if p.snapshot.CompareAndSwap(nil, snap) {
		p.logger.Info("settings loaded",
			zap.Int("asset_pairs", len(assetPairs)),
			zap.Int("exchanges", len(exchanges)),
		)
		return snap, nil
	}
	if current := p.snapshot.Load(); current != nil {
		return current, nil
	}
	return snap, nil
}

func (p *SettingsProvider) saveExchange(s *models.ExchangeSettings) (*models.ExchangeSettings, error) {
	snap, err := p.load()
	if err != nil {
		return nil, err
	}

	if err := p.repo.UpsertExchange(s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSettingsNotPersisted, err)
	}

	next := p.pairForWrite(snap, s.AssetPairID)
	wasDisabled := next.Exchange(s.Exchange).Disabled.IsTemporarilyDisabled
	next.Exchanges[s.Exchange] = *s
	p.swap(snap, next)

	// Ручное включение: прошлые проблемы биржи не учитываются
	if wasDisabled && !s.Disabled.IsTemporarilyDisabled && p.problems != nil {
		p.problems.ResetExchangeProblems(s.AssetPairID, s.Exchange)
	}

	saved := *s
	return &saved, nil
}

// pairForWrite возвращает копию настроек пары для изменения
func (p *SettingsProvider) pairForWrite(snap *settingsSnapshot, assetPairID string) *models.PairSettings {
	if ps, ok := snap.pairs[assetPairID]; ok {
		return clonePair(ps)
	}
	return p.defaultPair(assetPairID)
}

// swap публикует новый снимок с заменённой парой
func (p *SettingsProvider) swap(snap *settingsSnapshot, ps *models.PairSettings) {
	pairs := make(map[string]*models.PairSettings, len(snap.pairs)+1)
	for id, v := range snap.pairs {
		pairs[id] = v
	}
	pairs[ps.AssetPair.AssetPairID] = ps
	p.snapshot.Store(&settingsSnapshot{pairs: pairs})
}

func (p *SettingsProvider) defaultPair(assetPairID string) *models.PairSettings {
	return &models.PairSettings{
		AssetPair:        p.defaults.AssetPairDefaults(assetPairID),
		Exchanges:        make(map[string]models.ExchangeSettings),
		ExchangeDefaults: p.defaults.ExchangeDefaults(assetPairID, ""),
	}
}

func clonePair(ps *models.PairSettings) *models.PairSettings {
	c := &models.PairSettings{
		AssetPair:        *ps.AssetPair.Clone(),
		Exchanges:        make(map[string]models.ExchangeSettings, len(ps.Exchanges)),
		ExchangeDefaults: ps.ExchangeDefaults,
	}
	for k, v := range ps.Exchanges {
		c.Exchanges[k] = v
	}
	return c
}

// ============================================================
// Валидация
// ============================================================

// normalizeAssetPair проверяет настройки пары и подставляет значения по умолчанию.
//
// Правила валидации:
// - outlier_threshold: >= 0 (0 - значение по умолчанию)
// - repeated_outliers: длина и возрасты >= 0, max_avg в [0, 1]
// - volume_multiplier: >= 0 (0 - значение по умолчанию)
// - steps: только известные шаги, без повторов
func (p *SettingsProvider) normalizeAssetPair(s *models.AssetPairSettings) error {
	if s.AssetPairID == "" {
		return fmt.Errorf("%w: asset_pair_id is required", ErrInvalidSettings)
	}
	if s.OutlierThreshold.IsNegative() {
		return fmt.Errorf("%w: outlier_threshold must be >= 0", ErrInvalidSettings)
	}

	r := s.RepeatedOutliers
	if r.MaxSequenceLength < 0 {
		return fmt.Errorf("%w: max_sequence_length must be >= 0", ErrInvalidSettings)
	}
	if r.MaxSequenceAge < 0 || r.MaxAvgAge < 0 {
		return fmt.Errorf("%w: repeated outlier ages must be >= 0", ErrInvalidSettings)
	}
	if r.MaxAvg.IsNegative() || r.MaxAvg.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: max_avg must be in [0, 1]", ErrInvalidSettings)
	}

	if s.VolumeMultiplier.IsNegative() {
		return fmt.Errorf("%w: volume_multiplier must be >= 0", ErrInvalidSettings)
	}

	seen := make(map[models.StepKind]bool, len(s.Steps))
	for _, st := range s.Steps {
		if !st.Kind.IsValid() {
			return fmt.Errorf("%w: unknown step %q", ErrInvalidSettings, st.Kind)
		}
		if seen[st.Kind] {
			return fmt.Errorf("%w: duplicate step %q", ErrInvalidSettings, st.Kind)
		}
		seen[st.Kind] = true
	}
	p.fillAssetPairDefaults(s)
	return nil
}

// fillAssetPairDefaults подставляет значения по умолчанию вместо незаданных полей.
//
// Нулевой порог выбросов и нулевой множитель объёма считаются незаданными.
// Блок repeated_outliers из одних нулей заменяется целиком; в заданном блоке
// подставляются только нулевые возрасты окон, а нулевые max_sequence_length
// и max_avg отключают соответствующий критерий.
func (p *SettingsProvider) fillAssetPairDefaults(s *models.AssetPairSettings) {
	def := p.defaults.AssetPairDefaults(s.AssetPairID)

	if s.OutlierThreshold.IsZero() {
		s.OutlierThreshold = def.OutlierThreshold
	}
	if s.VolumeMultiplier.IsZero() {
		s.VolumeMultiplier = def.VolumeMultiplier
	}

	r := &s.RepeatedOutliers
	if r.MaxSequenceLength == 0 && r.MaxAvg.IsZero() && r.MaxSequenceAge == 0 && r.MaxAvgAge == 0 {
		*r = def.RepeatedOutliers
	}
	if r.MaxSequenceAge == 0 {
		r.MaxSequenceAge = def.RepeatedOutliers.MaxSequenceAge
	}
	if r.MaxAvgAge == 0 {
		r.MaxAvgAge = def.RepeatedOutliers.MaxAvgAge
	}

	if len(s.Steps) == 0 {
		s.Steps = def.Steps
	}
}

// normalizeExchange проверяет настройки биржи.
//
// Правила валидации:
// - hedging_preference: в [0, 1]
// - orderbook_outdating_threshold: >= 0 (0 - значение по умолчанию)
func (p *SettingsProvider) normalizeExchange(s *models.ExchangeSettings) error {
	if s.AssetPairID == "" || s.Exchange == "" {
		return fmt.Errorf("%w: asset_pair_id and exchange are required", ErrInvalidSettings)
	}
	if s.HedgingPreference.IsNegative() || s.HedgingPreference.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: hedging_preference must be in [0, 1]", ErrInvalidSettings)
	}
	if s.OrderbookOutdatingThreshold < 0 {
		return fmt.Errorf("%w: orderbook_outdating_threshold must be >= 0", ErrInvalidSettings)
	}
	if s.OrderbookOutdatingThreshold == 0 {
		s.OrderbookOutdatingThreshold = p.defaults.StaleThreshold
	}
	if !s.Disabled.IsTemporarilyDisabled {
		s.Disabled.Reason = ""
	}
	return nil
}
