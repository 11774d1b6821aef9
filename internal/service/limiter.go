// limiter.go — ограничение неудачных попыток входа.
// Фиксированное окно: счётчик на ключ username|ip живёт window
// с момента первой неудачи. Redis — при заданном DMS_REDIS_URL, иначе in-memory.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginLimiter считает неудачные попытки входа.
type LoginLimiter interface {
	// Blocked — исчерпан ли лимит попыток для ключа.
	Blocked(ctx context.Context, key string) (bool, error)
	// Fail регистрирует неудачную попытку.
	Fail(ctx context.Context, key string) error
	// Reset сбрасывает счётчик после успешного входа.
	Reset(ctx context.Context, key string) error
}

// LimiterKey — ключ счётчика для пары username/IP.
func LimiterKey(username, ip string) string {
	return strings.ToLower(strings.TrimSpace(username)) + "|" + ip
}

// --- Redis ---

const redisKeyPrefix = "dms:login:"

// RedisLimiter — счётчик попыток в Redis (INCR + EXPIRE).
type RedisLimiter struct {
	client      *redis.Client
	maxAttempts int
	window      time.Duration
}

// NewRedisLimiter подключается к Redis по URL и проверяет соединение.
func NewRedisLimiter(ctx context.Context, url string, maxAttempts int, window time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("разбор DMS_REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("подключение к Redis: %w", err)
	}
	return &RedisLimiter{client: client, maxAttempts: maxAttempts, window: window}, nil
}

func (l *RedisLimiter) Blocked(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Get(ctx, redisKeyPrefix+key).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("чтение счётчика попыток: %w", err)
	}
	return n >= l.maxAttempts, nil
}

func (l *RedisLimiter) Fail(ctx context.Context, key string) error {
	k := redisKeyPrefix + key
	pipe := l.client.Pipeline()
	pipe.Incr(ctx, k)
	// NX: окно отсчитывается от первой неудачи
	pipe.ExpireNX(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("увеличение счётчика попыток: %w", err)
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("сброс счётчика попыток: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close закрывает клиент Redis.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// --- In-memory ---

type attemptWindow struct {
	count   int
	expires time.Time
}

// MemoryLimiter — счётчик попыток в памяти процесса.
// Подходит для одного экземпляра сервиса.
type MemoryLimiter struct {
	mu          sync.Mutex
	attempts    map[string]attemptWindow
	maxAttempts int
	window      time.Duration
	now         func() time.Time
}

// NewMemoryLimiter создаёт in-memory ограничитель.
func NewMemoryLimiter(maxAttempts int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		attempts:    make(map[string]attemptWindow),
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
	}
}

func (l *MemoryLimiter) Blocked(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.attempts[key]
	if !ok {
		return false, nil
	}
	if !l.now().Before(w.expires) {
		delete(l.attempts, key)
		return false, nil
	}
	return w.count >= l.maxAttempts, nil
}

func (l *MemoryLimiter) Fail(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.attempts[key]
	if !ok || !now.Before(w.expires) {
		w = attemptWindow{expires: now.Add(l.window)}
	}
	w.count++
	l.attempts[key] = w

	// Очистка просроченных окон, чтобы карта не росла бесконечно
	if len(l.attempts) > 10000 {
		for k, v := range l.attempts {
			if !now.Before(v.expires) {
				delete(l.attempts, k)
			}
		}
	}
	return nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.attempts, key)
	l.mu.Unlock()
	return nil
}
