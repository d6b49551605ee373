package handlers

import (
	"errors"
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"marketmaker/internal/repository"
	"marketmaker/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodySize - ограничение размера тела запроса
const maxBodySize = 1 << 20

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondWithError отправляет JSON ответ с ошибкой
func respondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	respondWithJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// handleServiceError переводит ошибку сервиса в HTTP ответ
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidSettings):
		respondWithError(w, http.StatusBadRequest, "invalid_settings", "Invalid settings", err.Error())

	case errors.Is(err, service.ErrUnknownSettingsKind):
		respondWithError(w, http.StatusBadRequest, "unknown_settings_kind", "Unknown settings kind", err.Error())

	case errors.Is(err, repository.ErrSettingsNotFound):
		respondWithError(w, http.StatusNotFound, "settings_not_found", "Settings not found", "")

	case errors.Is(err, service.ErrAssetPairNotFound):
		respondWithError(w, http.StatusNotFound, "asset_pair_not_found", "Asset pair not found", "")

	case errors.Is(err, service.ErrSettingsNotPersisted):
		respondWithError(w, http.StatusServiceUnavailable, "settings_not_persisted", "Settings could not be saved", err.Error())

	default:
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
	}
}

// decodeJSON читает тело запроса с ограничением размера
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(dst)
}

// parseLimit читает положительный limit из query, 0 если не задан
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return limit, nil
}
