package handlers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"marketmaker/internal/models"
	"marketmaker/internal/repository"
	"marketmaker/internal/service"
)

// ErrMockDatabase - ошибка хранилища для тестов
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Settings Service ============

// MockSettingsService мок для SettingsServiceInterface
type MockSettingsService struct {
	pairs       map[string]*models.PairSettings
	getErr      error
	updateErr   error
	resetErr    error
	invalidated int
	mu          sync.Mutex
}

// NewMockSettingsService создает новый мок сервиса настроек
func NewMockSettingsService() *MockSettingsService {
	return &MockSettingsService{pairs: make(map[string]*models.PairSettings)}
}

func (m *MockSettingsService) pair(assetPairID string) *models.PairSettings {
	ps, ok := m.pairs[assetPairID]
	if !ok {
		ps = &models.PairSettings{
			AssetPair: models.AssetPairSettings{
				AssetPairID:      assetPairID,
				OutlierThreshold: decimal.RequireFromString("0.05"),
				VolumeMultiplier: decimal.NewFromInt(1),
			},
			Exchanges: map[string]models.ExchangeSettings{},
		}
	}
	return ps
}

func (m *MockSettingsService) GetAll() ([]*models.PairSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.PairSettings, 0, len(m.pairs))
	for _, ps := range m.pairs {
		result = append(result, ps)
	}
	return result, nil
}

func (m *MockSettingsService) Get(assetPairID string) (*models.PairSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.pair(assetPairID), nil
}

func (m *MockSettingsService) Update(settings *models.AssetPairSettings) (*models.AssetPairSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return nil, m.updateErr
	}
	if settings.OutlierThreshold.IsNegative() {
		return nil, fmt.Errorf("%w: outlier_threshold must be >= 0", service.ErrInvalidSettings)
	}
	ps := m.pair(settings.AssetPairID)
	ps.AssetPair = *settings.Clone()
	m.pairs[settings.AssetPairID] = ps
	return settings, nil
}

func (m *MockSettingsService) UpdateExchange(settings *models.ExchangeSettings) (*models.ExchangeSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return nil, m.updateErr
	}
	if settings.HedgingPreference.IsNegative() || settings.HedgingPreference.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: hedging_preference must be in [0, 1]", service.ErrInvalidSettings)
	}
	ps := m.pair(settings.AssetPairID)
	ps.Exchanges[settings.Exchange] = *settings
	m.pairs[settings.AssetPairID] = ps
	return settings, nil
}

func (m *MockSettingsService) SetExchangeDisabled(assetPairID, exchange string, disabled bool, reason string) (*models.ExchangeSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return nil, m.updateErr
	}
	ps := m.pair(assetPairID)
	ex := ps.Exchange(exchange)
	ex.Disabled = models.DisabledSettings{IsTemporarilyDisabled: disabled, Reason: reason}
	ps.Exchanges[exchange] = ex
	m.pairs[assetPairID] = ps
	return &ex, nil
}

func (m *MockSettingsService) Reset(assetPairID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resetErr != nil {
		return m.resetErr
	}
	if _, ok := m.pairs[assetPairID]; !ok {
		return repository.ErrSettingsNotFound
	}
	delete(m.pairs, assetPairID)
	return nil
}

func (m *MockSettingsService) ResetExchange(assetPairID, exchange string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resetErr != nil {
		return m.resetErr
	}
	ps, ok := m.pairs[assetPairID]
	if !ok {
		return repository.ErrSettingsNotFound
	}
	if _, ok := ps.Exchanges[exchange]; !ok {
		return repository.ErrSettingsNotFound
	}
	delete(ps.Exchanges, exchange)
	return nil
}

func (m *MockSettingsService) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated++
}

// ============ Mock Status Service ============

// MockStatusService мок для StatusServiceInterface
type MockStatusService struct {
	statuses []models.AssetPairStatus
	prefs    []models.HedgingPreference
}

func (m *MockStatusService) GetAllStatuses() []models.AssetPairStatus {
	if m.statuses == nil {
		return []models.AssetPairStatus{}
	}
	return m.statuses
}

func (m *MockStatusService) GetStatus(assetPairID string) (*models.AssetPairStatus, error) {
	for i := range m.statuses {
		if m.statuses[i].AssetPairID == assetPairID {
			st := m.statuses[i]
			return &st, nil
		}
	}
	return nil, service.ErrAssetPairNotFound
}

func (m *MockStatusService) GetHedgingPreferences() []models.HedgingPreference {
	if m.prefs == nil {
		return []models.HedgingPreference{}
	}
	return m.prefs
}

// ============ Mock Event Service ============

// MockEventService мок для EventServiceInterface
type MockEventService struct {
	events    []*models.EventRecord
	err       error
	lastPair  string
	lastLimit int
}

func (m *MockEventService) GetEvents(assetPairID string, limit int) ([]*models.EventRecord, error) {
	m.lastPair = assetPairID
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.events, nil
}

// Проверяем, что моки реализуют интерфейсы
var _ service.SettingsServiceInterface = (*MockSettingsService)(nil)
var _ service.StatusServiceInterface = (*MockStatusService)(nil)
var _ service.EventServiceInterface = (*MockEventService)(nil)
