package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config - политика повторных попыток.
//
// Экспоненциальный backoff с jitter:
//
//	delay = min(InitialDelay × Multiplier^attempt, MaxDelay) ± jitter
//
// Jitter размазывает повторы по времени чтобы несколько задач
// не били в шлюз одновременно.
type Config struct {
	// MaxRetries - количество попыток включая первую.
	// 0 или отрицательное = без ограничения.
	MaxRetries int

	// InitialDelay - задержка перед второй попыткой (по умолчанию 100ms)
	InitialDelay time.Duration

	// MaxDelay - потолок задержки (по умолчанию 30s)
	MaxDelay time.Duration

	// Multiplier - множитель экспоненциального роста (по умолчанию 2.0)
	Multiplier float64

	// JitterFactor - доля случайной вариации задержки, 0..1
	JitterFactor float64

	// RetryIf решает стоит ли повторять после данной ошибки.
	// nil = повторять любые ошибки.
	RetryIf func(error) bool

	// OnRetry вызывается перед каждым ожиданием (для логирования)
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig - политика для обычных запросов к шлюзу:
// 4 попытки, задержки 100ms, 200ms, 400ms
func DefaultConfig() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// AggressiveConfig - политика для критичных операций
// (отмена ордеров, закрытие позиций): 6 быстрых попыток
func AggressiveConfig() Config {
	return Config{
		MaxRetries:   6,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// validate подставляет значения по умолчанию
func (c *Config) validate() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
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

// calculateDelay - задержка перед попыткой attempt+1
func (c *Config) calculateDelay(attempt int) time.Duration {
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

// Do выполняет операцию с повторными попытками по политике cfg.
// Возвращает nil при успехе или последнюю ошибку когда попытки
// исчерпаны либо контекст отменён.
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult - вариант Do для операций с результатом:
//
//	order, err := retry.DoWithResult(ctx, func() (*gateway.Order, error) {
//	    return gw.PlaceOrder(ctx, req)
//	}, retry.DefaultConfig())
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.validate()

	var lastErr error
	var zero T

	for attempt := 0; cfg.MaxRetries <= 0 || attempt < cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, ctx.Err()
		default:
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return zero, err
		}
		if cfg.MaxRetries > 0 && attempt >= cfg.MaxRetries-1 {
			break
		}

		delay := cfg.calculateDelay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryableError - ошибка которая сама сообщает можно ли её повторять
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable классифицирует ошибку для RetryIf.
//
// Порядок проверок:
//  1. RetryableError в цепочке -> его Retryable()
//  2. Temporary() в цепочке -> его значение
//  3. Иначе повторяем
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}

	type temporary interface {
		Temporary() bool
	}
	var temp temporary
	if errors.As(err, &temp) {
		return temp.Temporary()
	}

	return true
}

// RetryIfNotContext не повторяет отмену и таймаут контекста
func RetryIfNotContext(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// ============================================================
// Обёртки ошибок
// ============================================================

// PermanentError помечает ошибку как неповторяемую
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent оборачивает ошибку в PermanentError.
// Используется для ошибок валидации и отказов биржи.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// TemporaryError помечает ошибку как повторяемую
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string   { return e.Err.Error() }
func (e *TemporaryError) Unwrap() error   { return e.Err }
func (e *TemporaryError) Retryable() bool { return true }
func (e *TemporaryError) Temporary() bool { return true }

// Temporary оборачивает ошибку в TemporaryError (сетевые сбои, таймауты)
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return &TemporaryError{Err: err}
}
