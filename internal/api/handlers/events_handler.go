package handlers

import (
	"net/http"

	"marketmaker/internal/models"
	"marketmaker/internal/service"
)

// EventsHandler отдаёт журнал исходящих событий
//
// Endpoints:
// - GET /api/v1/events?assetPairId=BTCUSD&limit=50
type EventsHandler struct {
	eventService service.EventServiceInterface
}

// NewEventsHandler создает новый EventsHandler
func NewEventsHandler(eventService service.EventServiceInterface) *EventsHandler {
	return &EventsHandler{eventService: eventService}
}

// GetEvents возвращает последние события, новые первыми
// GET /api/v1/events
//
// Query Parameters:
// - assetPairId: фильтр по паре (необязательно)
// - limit: количество событий (по умолчанию и максимум задаёт сервис)
func (h *EventsHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_limit", "Invalid limit", err.Error())
		return
	}

	events, err := h.eventService.GetEvents(r.URL.Query().Get("assetPairId"), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if events == nil {
		events = []*models.EventRecord{}
	}
	respondWithJSON(w, http.StatusOK, events)
}
