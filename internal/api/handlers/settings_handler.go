package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"marketmaker/internal/models"
	"marketmaker/internal/service"
)

// SettingsHandler отвечает за настройки расчёта цены
//
// Endpoints:
// - GET /api/v1/settings                                             - настройки всех пар
// - GET /api/v1/settings/{assetPairId}                               - настройки пары
// - PUT /api/v1/settings/{assetPairId}                               - изменить настройки пары
// - DELETE /api/v1/settings/{assetPairId}                            - сброс к значениям по умолчанию
// - PUT /api/v1/settings/{assetPairId}/exchanges/{exchange}          - изменить настройки биржи
// - DELETE /api/v1/settings/{assetPairId}/exchanges/{exchange}       - сброс настроек биржи
// - POST /api/v1/settings/{assetPairId}/exchanges/{exchange}/disable - временно отключить биржу
// - POST /api/v1/settings/{assetPairId}/exchanges/{exchange}/enable  - включить биржу
// - POST /api/v1/settings/invalidate                                 - перечитать настройки из БД
type SettingsHandler struct {
	settings service.SettingsServiceInterface
}

// NewSettingsHandler создает новый SettingsHandler с внедрением зависимостей
func NewSettingsHandler(settings service.SettingsServiceInterface) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// DisableExchangeRequest тело запроса на отключение биржи
type DisableExchangeRequest struct {
	Reason string `json:"reason"`
}

// GetAllSettings возвращает настройки всех пар, для которых что-либо сохранено
// GET /api/v1/settings
func (h *SettingsHandler) GetAllSettings(w http.ResponseWriter, r *http.Request) {
	all, err := h.settings.GetAll()
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if all == nil {
		all = []*models.PairSettings{}
	}
	respondWithJSON(w, http.StatusOK, all)
}

// GetSettings возвращает настройки пары.
// Для пары без сохранённых настроек возвращаются значения по умолчанию.
// GET /api/v1/settings/{assetPairId}
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ps, err := h.settings.Get(mux.Vars(r)["assetPairId"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ps)
}

// UpdateSettings заменяет настройки пары
// PUT /api/v1/settings/{assetPairId}
//
// Request Body:
//
//	{
//	  "preset_primary_exchange": "kraken",
//	  "outlier_threshold": "0.05",
//	  "repeated_outliers": {"max_sequence_length": 10, "max_sequence_age": 60000000000, "max_avg": "0.5", "max_avg_age": 300000000000},
//	  "volume_multiplier": "1",
//	  "steps": [{"kind": "outliers", "enabled": false}]
//	}
//
// Response:
// - 200 OK: сохранённые настройки
// - 400 Bad Request: невалидные параметры
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	assetPairID := mux.Vars(r)["assetPairId"]

	var req models.AssetPairSettings
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	if req.AssetPairID != "" && req.AssetPairID != assetPairID {
		respondWithError(w, http.StatusBadRequest, "asset_pair_mismatch", "asset_pair_id in body does not match path", "")
		return
	}
	req.AssetPairID = assetPairID

	saved, err := h.settings.Update(&req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, saved)
}

// ResetSettings удаляет сохранённые настройки пары и её бирж
// DELETE /api/v1/settings/{assetPairId}
//
// Response:
// - 204 No Content: настройки удалены
// - 404 Not Found: для пары ничего не сохранено
func (h *SettingsHandler) ResetSettings(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.Reset(mux.Vars(r)["assetPairId"]); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateExchangeSettings заменяет настройки биржи в паре
// PUT /api/v1/settings/{assetPairId}/exchanges/{exchange}
func (h *SettingsHandler) UpdateExchangeSettings(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req models.ExchangeSettings
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	if (req.AssetPairID != "" && req.AssetPairID != vars["assetPairId"]) ||
		(req.Exchange != "" && req.Exchange != vars["exchange"]) {
		respondWithError(w, http.StatusBadRequest, "exchange_mismatch", "asset_pair_id or exchange in body does not match path", "")
		return
	}
	req.AssetPairID = vars["assetPairId"]
	req.Exchange = vars["exchange"]

	saved, err := h.settings.UpdateExchange(&req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, saved)
}

// ResetExchangeSettings удаляет сохранённые настройки биржи в паре
// DELETE /api/v1/settings/{assetPairId}/exchanges/{exchange}
func (h *SettingsHandler) ResetExchangeSettings(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.settings.ResetExchange(vars["assetPairId"], vars["exchange"]); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DisableExchange временно отключает биржу в паре
// POST /api/v1/settings/{assetPairId}/exchanges/{exchange}/disable
//
// Request Body (необязательно):
//
//	{"reason": "maintenance"}
func (h *SettingsHandler) DisableExchange(w http.ResponseWriter, r *http.Request) {
	var req DisableExchangeRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}
	h.setDisabled(w, r, true, req.Reason)
}

// EnableExchange снимает ручное отключение биржи
// POST /api/v1/settings/{assetPairId}/exchanges/{exchange}/enable
func (h *SettingsHandler) EnableExchange(w http.ResponseWriter, r *http.Request) {
	h.setDisabled(w, r, false, "")
}

// InvalidateCache сбрасывает кэш настроек
// POST /api/v1/settings/invalidate
func (h *SettingsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.settings.Invalidate()
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "settings cache invalidated"})
}

func (h *SettingsHandler) setDisabled(w http.ResponseWriter, r *http.Request, disabled bool, reason string) {
	vars := mux.Vars(r)
	saved, err := h.settings.SetExchangeDisabled(vars["assetPairId"], vars["exchange"], disabled, reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, saved)
}
