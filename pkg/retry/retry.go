package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config конфигурация повторных попыток
//
// Экспоненциальный backoff с jitter:
// delay = min(InitialDelay * Multiplier^attempt, MaxDelay) ± jitter
type Config struct {
	// MaxRetries - максимальное количество попыток (включая первую)
	// 0 или отрицательное = без ограничения
	MaxRetries int

	// InitialDelay - начальная задержка (по умолчанию 100ms)
	InitialDelay time.Duration

	// MaxDelay - потолок задержки (по умолчанию 30s)
	MaxDelay time.Duration

	// Multiplier - множитель роста (по умолчанию 2.0)
	Multiplier float64

	// JitterFactor - доля случайной вариации, 0.0 - 1.0
	JitterFactor float64

	// RetryIf - нужно ли повторять эту ошибку (по умолчанию все)
	RetryIf func(error) bool

	// OnRetry вызывается перед каждой повторной попыткой
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DatabaseConfig - подключение к БД при старте сервиса
//
// 5 попыток: 500ms, 1s, 2s, 4s.
func DatabaseConfig() Config {
	return Config{
		MaxRetries:   5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// ReconnectConfig - переподключение фида, без ограничения попыток
func ReconnectConfig(initial, max time.Duration) Config {
	return Config{
		MaxRetries:   0,
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

// validate устанавливает значения по умолчанию
func (c *Config) validate() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
}

// Delay вычисляет задержку перед попыткой attempt (с нуля)
func (c Config) Delay(attempt int) time.Duration {
	c.validate()

	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterFactor > 0 {
		delay += delay * c.JitterFactor * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Do выполняет операцию с повторными попытками
//
// Возвращает nil при успехе, иначе последнюю ошибку.
// Отмена ctx прерывает ожидание между попытками.
func Do(ctx context.Context, operation func() error, cfg Config) error {
	cfg.validate()

	var lastErr error

	for attempt := 0; cfg.MaxRetries <= 0 || attempt < cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return err
		}

		// Последняя попытка - не ждём
		if cfg.MaxRetries > 0 && attempt >= cfg.MaxRetries-1 {
			break
		}

		delay := cfg.Delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		}
	}

	return lastErr
}

// Backoff - счётчик попыток для циклов переподключения
//
// Не потокобезопасен: принадлежит одной горутине.
type Backoff struct {
	cfg     Config
	attempt int
}

// NewBackoff создаёт Backoff по конфигурации
func NewBackoff(cfg Config) *Backoff {
	cfg.validate()
	return &Backoff{cfg: cfg}
}

// Next возвращает задержку перед следующей попыткой и увеличивает счётчик
func (b *Backoff) Next() time.Duration {
	d := b.cfg.Delay(b.attempt)
	b.attempt++
	return d
}

// Attempt - номер текущей попытки
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset сбрасывает счётчик после успешного подключения
func (b *Backoff) Reset() {
	b.attempt = 0
}

// ============================================================
// Predefined RetryIf functions
// ============================================================

// PermanentError - ошибка, которую не нужно повторять
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent оборачивает ошибку в PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RetryIfNotPermanent не повторяет PermanentError.
//
// Таймаут отдельной попытки (context.DeadlineExceeded) повторяется:
// отмену всей операции вызывающий оборачивает в Permanent сам.
func RetryIfNotPermanent(err error) bool {
	var p *PermanentError
	return !errors.As(err, &p)
}
