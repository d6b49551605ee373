package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"marketmaker/internal/service"
)

// StatusHandler отдаёт текущее состояние расчёта цены по парам.
//
// Endpoints:
// - GET /api/v1/status                - состояние всех пар
// - GET /api/v1/status/{assetPairId}  - состояние одной пары
// - GET /api/v1/hedging-preferences   - предпочтения хеджирования бирж
type StatusHandler struct {
	statusService service.StatusServiceInterface
}

// NewStatusHandler создает новый StatusHandler с внедрением зависимостей.
func NewStatusHandler(statusService service.StatusServiceInterface) *StatusHandler {
	return &StatusHandler{statusService: statusService}
}

// GetAllStatuses возвращает первичную биржу, качество бирж и запрет сделок по всем парам.
//
// GET /api/v1/status
//
// Response 200 OK:
//
//	[
//	  {
//	    "asset_pair_id": "BTCUSD",
//	    "primary_exchange": "kraken",
//	    "last_switch_time": "2025-11-30T14:32:00Z",
//	    "qualities": [{"exchange": "kraken", "hedging_preference": "0.5", "error_state": "None", "orderbook_received": true}],
//	    "trading_stopped": false,
//	    "last_evaluated": "2025-11-30T14:35:10Z"
//	  }
//	]
func (h *StatusHandler) GetAllStatuses(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.statusService.GetAllStatuses())
}

// GetStatus возвращает состояние одной пары.
//
// GET /api/v1/status/{assetPairId}
//
// Response 404 Not Found: по паре ещё не было стаканов.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.statusService.GetStatus(mux.Vars(r)["assetPairId"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, st)
}

// GetHedgingPreferences возвращает предпочтения хеджирования всех бирж всех пар.
//
// GET /api/v1/hedging-preferences
func (h *StatusHandler) GetHedgingPreferences(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.statusService.GetHedgingPreferences())
}
