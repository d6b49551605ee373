package middleware

import (
	"net/http"

	"marketmaker/pkg/crypto"
	"marketmaker/pkg/ratelimit"
)

// APIKeyHeader - заголовок с ключом доступа к изменению настроек
const APIKeyHeader = "X-API-Key"

// Допустимая частота неудачных попыток: burst 10, затем 1 в секунду
const (
	failedAttemptsRate  = 1
	failedAttemptsBurst = 10
)

// APIKeyAuth - middleware для защиты изменяющих запросов
//
// Ключ из заголовка X-API-Key сверяется с bcrypt хешем из конфигурации.
// Запросы GET, HEAD и OPTIONS пропускаются без проверки.
// Пустой хеш отключает проверку (локальное развертывание).
//
// Неудачные попытки расходуют токены общего лимитера. Пока токенов нет,
// все изменяющие запросы получают 429 без проверки ключа.
func APIKeyAuth(keyHash string) func(http.Handler) http.Handler {
	failures := ratelimit.NewRateLimiter(failedAttemptsRate, failedAttemptsBurst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" || isReadOnly(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if !failures.Available() {
				writeAuthError(w, http.StatusTooManyRequests, "too_many_attempts", "Too many failed API key attempts")
				return
			}

			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing_api_key", "API key is required")
				return
			}
			if err := crypto.VerifyAPIKey(key, keyHash); err != nil {
				failures.Allow()
				writeAuthError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isReadOnly(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `","code":"` + code + `"}`))
}
