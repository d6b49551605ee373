package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/internal/config"
	"marketmaker/internal/models"
	"marketmaker/internal/repository"
)

// ============ Mock SettingsRepository ============

type MockSettingsRepository struct {
	mu         sync.Mutex
	assetPairs map[string]*models.AssetPairSettings
	exchanges  map[string]map[string]*models.ExchangeSettings
	getErr     error
	upsertErr  error
	deleteErr  error
	loadCalls  int
}

func NewMockSettingsRepository() *MockSettingsRepository {
	return &MockSettingsRepository{
		assetPairs: make(map[string]*models.AssetPairSettings),
		exchanges:  make(map[string]map[string]*models.ExchangeSettings),
	}
}

func (m *MockSettingsRepository) GetAllAssetPairs() ([]*models.AssetPairSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.AssetPairSettings, 0, len(m.assetPairs))
	for _, s := range m.assetPairs {
		result = append(result, s.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AssetPairID < result[j].AssetPairID })
	return result, nil
}

func (m *MockSettingsRepository) GetAssetPair(assetPairID string) (*models.AssetPairSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.assetPairs[assetPairID]
	if !ok {
		return nil, repository.ErrSettingsNotFound
	}
	return s.Clone(), nil
}

func (m *MockSettingsRepository) UpsertAssetPair(settings *models.AssetPairSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	settings.UpdatedAt = time.Now()
	m.assetPairs[settings.AssetPairID] = settings.Clone()
	return nil
}

func (m *MockSettingsRepository) DeleteAssetPair(assetPairID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	_, hasPair := m.assetPairs[assetPairID]
	_, hasExchanges := m.exchanges[assetPairID]
	if !hasPair && !hasExchanges {
		return repository.ErrSettingsNotFound
	}
	delete(m.assetPairs, assetPairID)
	delete(m.exchanges, assetPairID)
	return nil
}

func (m *MockSettingsRepository) GetAllExchanges() ([]*models.ExchangeSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.ExchangeSettings
	for _, byExchange := range m.exchanges {
		for _, s := range byExchange {
			c := *s
			result = append(result, &c)
		}
	}
	return result, nil
}

func (m *MockSettingsRepository) GetExchanges(assetPairID string) ([]*models.ExchangeSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.ExchangeSettings
	for _, s := range m.exchanges[assetPairID] {
		c := *s
		result = append(result, &c)
	}
	return result, nil
}

func (m *MockSettingsRepository) UpsertExchange(settings *models.ExchangeSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	settings.UpdatedAt = time.Now()
	if m.exchanges[settings.AssetPairID] == nil {
		m.exchanges[settings.AssetPairID] = make(map[string]*models.ExchangeSettings)
	}
	c := *settings
	m.exchanges[settings.AssetPairID][settings.Exchange] = &c
	return nil
}

func (m *MockSettingsRepository) DeleteExchange(assetPairID, exchange string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.exchanges[assetPairID][exchange]; !ok {
		return repository.ErrSettingsNotFound
	}
	delete(m.exchanges[assetPairID], exchange)
	return nil
}

// ============ Mock EventRepository ============

type MockEventRepository struct {
	mu        sync.Mutex
	records   []*models.EventRecord
	createErr error
	getErr    error
	nextID    int64
	lastLimit int
	lastPair  string
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{nextID: 1}
}

func (m *MockEventRepository) Create(record *models.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	record.ID = m.nextID
	m.nextID++
	m.records = append(m.records, record)
	return nil
}

func (m *MockEventRepository) GetRecent(limit int) ([]*models.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	m.lastPair = ""
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.records, nil
}

func (m *MockEventRepository) GetByAssetPair(assetPairID string, limit int) ([]*models.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	m.lastPair = assetPairID
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.EventRecord
	for _, r := range m.records {
		if r.AssetPairID == assetPairID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *MockEventRepository) KeepRecent(n int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) <= n {
		return 0, nil
	}
	deleted := int64(len(m.records) - n)
	m.records = m.records[len(m.records)-n:]
	return deleted, nil
}

// ============ Mock получатели ============

type MockBroadcaster struct {
	mu       sync.Mutex
	messages []models.OutboundMessage
}

func (m *MockBroadcaster) BroadcastOutbound(msg models.OutboundMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

type MockSender struct {
	mu      sync.Mutex
	batches [][]models.OutboundMessage
	err     error
}

func (m *MockSender) Send(_ context.Context, msgs []models.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, msgs)
	return m.err
}

// ============ Mock StatusSource ============

type MockStatusSource struct {
	statuses map[string]models.AssetPairStatus
	prefs    []models.HedgingPreference
}

func (m *MockStatusSource) Status(assetPairID string) (models.AssetPairStatus, bool) {
	st, ok := m.statuses[assetPairID]
	return st, ok
}

func (m *MockStatusSource) Statuses() []models.AssetPairStatus {
	var ids []string
	for id := range m.statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var result []models.AssetPairStatus
	for _, id := range ids {
		result = append(result, m.statuses[id])
	}
	return result
}

func (m *MockStatusSource) HedgingPreferences() []models.HedgingPreference {
	return m.prefs
}

// ============ Хелперы ============

func testPricingDefaults() config.PricingConfig {
	return config.PricingConfig{
		OutlierThreshold:          decimal.RequireFromString("0.05"),
		StaleThreshold:            10 * time.Second,
		RepeatedMaxSequenceLength: 10,
		RepeatedMaxSequenceAge:    time.Minute,
		RepeatedMaxAvg:            decimal.RequireFromString("0.5"),
		RepeatedMaxAvgAge:         5 * time.Minute,
		VolumeMultiplier:          decimal.NewFromInt(1),
		HedgingPreference:         decimal.Zero,
	}
}

// ============ Mock Problem Resetter ============

// MockProblemResetter запоминает сброшенные пары/биржи
type MockProblemResetter struct {
	mu    sync.Mutex
	reset []string
}

func (m *MockProblemResetter) ResetExchangeProblems(assetPairID, exchange string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset = append(m.reset, assetPairID+"/"+exchange)
}

func (m *MockProblemResetter) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.reset...)
}

var _ ProblemResetter = (*MockProblemResetter)(nil)
