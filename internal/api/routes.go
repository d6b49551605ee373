package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"marketmaker/internal/api/handlers"
	"marketmaker/internal/api/middleware"
	"marketmaker/internal/service"
	"marketmaker/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	SettingsService service.SettingsServiceInterface
	StatusService   service.StatusServiceInterface
	EventService    service.EventServiceInterface
	Hub             *websocket.Hub
	APIKeyHash      string   // bcrypt хеш ключа для изменения настроек, пусто = без проверки
	CORSOrigins     []string // origins сверх локальных по умолчанию
	Logger          *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /settings/
//	│   ├── GET / - настройки всех пар
//	│   ├── POST /invalidate - перечитать настройки из БД
//	│   ├── GET /{assetPairId} - настройки пары
//	│   ├── PUT /{assetPairId} - изменить настройки пары
//	│   ├── DELETE /{assetPairId} - сброс настроек пары
//	│   ├── PUT /{assetPairId}/exchanges/{exchange} - изменить настройки биржи
//	│   ├── DELETE /{assetPairId}/exchanges/{exchange} - сброс настроек биржи
//	│   ├── POST /{assetPairId}/exchanges/{exchange}/disable - отключить биржу
//	│   └── POST /{assetPairId}/exchanges/{exchange}/enable - включить биржу
//	├── /status/
//	│   ├── GET / - состояние всех пар
//	│   └── GET /{assetPairId} - состояние пары
//	├── GET /hedging-preferences - предпочтения хеджирования
//	└── GET /events - журнал исходящих событий
//
// /ws/stream - WebSocket поток событий
// /metrics - Prometheus
// /health - проверка доступности
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. APIKeyAuth (только изменяющие запросы /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	cors := middleware.NewCORS(deps.CORSOrigins)

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(cors)

	// Preflight запросы не совпадают по методу ни с одним маршрутом,
	// middleware к ним не применяются
	router.MethodNotAllowedHandler = cors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.APIKeyAuth(deps.APIKeyHash))

	// Settings routes
	if deps.SettingsService != nil {
		settingsHandler := handlers.NewSettingsHandler(deps.SettingsService)

		api.HandleFunc("/settings", settingsHandler.GetAllSettings).Methods("GET")
		api.HandleFunc("/settings/invalidate", settingsHandler.InvalidateCache).Methods("POST")
		api.HandleFunc("/settings/{assetPairId}", settingsHandler.GetSettings).Methods("GET")
		api.HandleFunc("/settings/{assetPairId}", settingsHandler.UpdateSettings).Methods("PUT")
		api.HandleFunc("/settings/{assetPairId}", settingsHandler.ResetSettings).Methods("DELETE")
		api.HandleFunc("/settings/{assetPairId}/exchanges/{exchange}", settingsHandler.UpdateExchangeSettings).Methods("PUT")
		api.HandleFunc("/settings/{assetPairId}/exchanges/{exchange}", settingsHandler.ResetExchangeSettings).Methods("DELETE")
		api.HandleFunc("/settings/{assetPairId}/exchanges/{exchange}/disable", settingsHandler.DisableExchange).Methods("POST")
		api.HandleFunc("/settings/{assetPairId}/exchanges/{exchange}/enable", settingsHandler.EnableExchange).Methods("POST")
	}

	// Status routes
	if deps.StatusService != nil {
		statusHandler := handlers.NewStatusHandler(deps.StatusService)

		api.HandleFunc("/status", statusHandler.GetAllStatuses).Methods("GET")
		api.HandleFunc("/status/{assetPairId}", statusHandler.GetStatus).Methods("GET")
		api.HandleFunc("/hedging-preferences", statusHandler.GetHedgingPreferences).Methods("GET")
	}

	// Events routes
	if deps.EventService != nil {
		eventsHandler := handlers.NewEventsHandler(deps.EventService)

		api.HandleFunc("/events", eventsHandler.GetEvents).Methods("GET")
	}

	// WebSocket route
	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", deps.Hub.ServeWS)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
