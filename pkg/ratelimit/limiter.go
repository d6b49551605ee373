package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter - Token Bucket поверх golang.org/x/time/rate
//
// Ведро наполняется со скоростью rate токенов/сек до ёмкости burst,
// каждое событие потребляет 1 токен.
//
// Использование:
//
//	limiter := NewRateLimiter(1, 10) // 1 событие/сек, burst 10
//	if limiter.Allow() { ... }
type RateLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewRateLimiter создаёт новый rate limiter
//
// Параметры:
//   - r: количество событий в секунду (0 - 10/сек)
//   - burst: максимальный burst, не меньше r (0 - 2×r)
func NewRateLimiter(r float64, burst int) *RateLimiter {
	return newRateLimiter(r, burst, time.Now)
}

func newRateLimiter(r float64, burst int, now func() time.Time) *RateLimiter {
	if r <= 0 {
		r = 10
	}
	if burst <= 0 {
		burst = int(r * 2)
	}
	if float64(burst) < r {
		burst = int(r)
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(r), burst),
		now:     now,
	}
}

// Allow забирает токен без блокировки, false если токенов нет
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.AllowN(rl.now(), 1)
}

// Available проверяет наличие токена, не забирая его
func (rl *RateLimiter) Available() bool {
	return rl.Tokens() >= 1
}

// Tokens возвращает текущее количество токенов
func (rl *RateLimiter) Tokens() float64 {
	return rl.limiter.TokensAt(rl.now())
}
