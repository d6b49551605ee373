package middleware

import "net/http"

// defaultOrigins - origins дашборда при локальной разработке
var defaultOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"http://localhost:5173", // Vite dev server
	"http://127.0.0.1:5173",
}

const (
	corsMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-Requested-With, " + APIKeyHeader
	corsMaxAge  = "86400"
)

// NewCORS возвращает middleware Cross-Origin Resource Sharing для дашборда.
//
// К origins по умолчанию добавляются extra (CORS_ALLOWED_ORIGINS).
// Разрешённому origin отвечаем им самим с credentials, запросам без Origin
// (curl, сервисы) отдаём "*", остальным заголовок не ставим.
// Preflight (OPTIONS) завершается здесь со статусом 200.
func NewCORS(extra []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(defaultOrigins)+len(extra))
	for _, o := range defaultOrigins {
		allowed[o] = struct{}{}
	}
	for _, o := range extra {
		if o != "" {
			allowed[o] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")

			if origin == "" {
				h.Set("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowed[origin]; ok {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}

			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
