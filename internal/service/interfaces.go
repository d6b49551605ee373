package service

import (
	"context"

	"marketmaker/internal/models"
	"marketmaker/internal/pricing"
	"marketmaker/internal/repository"
)

// SettingsRepositoryInterface определяет интерфейс репозитория настроек
type SettingsRepositoryInterface interface {
	GetAllAssetPairs() ([]*models.AssetPairSettings, error)
	GetAssetPair(assetPairID string) (*models.AssetPairSettings, error)
	UpsertAssetPair(settings *models.AssetPairSettings) error
	DeleteAssetPair(assetPairID string) error
	GetAllExchanges() ([]*models.ExchangeSettings, error)
	GetExchanges(assetPairID string) ([]*models.ExchangeSettings, error)
	UpsertExchange(settings *models.ExchangeSettings) error
	DeleteExchange(assetPairID, exchange string) error
}

// EventRepositoryInterface определяет интерфейс журнала событий
type EventRepositoryInterface interface {
	Create(record *models.EventRecord) error
	GetRecent(limit int) ([]*models.EventRecord, error)
	GetByAssetPair(assetPairID string, limit int) ([]*models.EventRecord, error)
	KeepRecent(n int) (int64, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ SettingsRepositoryInterface = (*repository.SettingsRepository)(nil)
var _ EventRepositoryInterface = (*repository.EventRepository)(nil)

// ============ Внешние получатели событий ============

// EventBroadcaster - рассылка исходящих сообщений подписчикам WebSocket
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type EventBroadcaster interface {
	BroadcastOutbound(msg models.OutboundMessage)
}

// MessageSender - отправка исходящих сообщений в очередь
type MessageSender interface {
	Send(ctx context.Context, msgs []models.OutboundMessage) error
}

// StatusSource - снимки состояния пар из конвейера расчёта
type StatusSource interface {
	Status(assetPairID string) (models.AssetPairStatus, bool)
	Statuses() []models.AssetPairStatus
	HedgingPreferences() []models.HedgingPreference
}

// ProblemResetter - сброс истории проблем биржи при ручном включении
type ProblemResetter interface {
	ResetExchangeProblems(assetPairID, exchange string)
}

var _ StatusSource = (*pricing.Pipeline)(nil)
var _ ProblemResetter = (*pricing.Pipeline)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// SettingsServiceInterface определяет интерфейс сервиса настроек
type SettingsServiceInterface interface {
	GetAll() ([]*models.PairSettings, error)
	Get(assetPairID string) (*models.PairSettings, error)
	Update(settings *models.AssetPairSettings) (*models.AssetPairSettings, error)
	UpdateExchange(settings *models.ExchangeSettings) (*models.ExchangeSettings, error)
	SetExchangeDisabled(assetPairID, exchange string, disabled bool, reason string) (*models.ExchangeSettings, error)
	Reset(assetPairID string) error
	ResetExchange(assetPairID, exchange string) error
	Invalidate()
}

// StatusServiceInterface определяет интерфейс сервиса состояний
type StatusServiceInterface interface {
	GetAllStatuses() []models.AssetPairStatus
	GetStatus(assetPairID string) (*models.AssetPairStatus, error)
	GetHedgingPreferences() []models.HedgingPreference
}

// EventServiceInterface определяет интерфейс сервиса событий
type EventServiceInterface interface {
	GetEvents(assetPairID string, limit int) ([]*models.EventRecord, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ SettingsServiceInterface = (*SettingsProvider)(nil)
var _ StatusServiceInterface = (*StatusService)(nil)
var _ EventServiceInterface = (*EventService)(nil)

var _ pricing.SettingsSource = (*SettingsProvider)(nil)
var _ pricing.Publisher = (*EventService)(nil)
