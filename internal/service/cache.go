// cache.go — LRU-кэш моделей изделий по префиксу кода с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dms_modelo_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш моделей.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dms_modelo_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша моделей.",
	})
)

// ModeloCache — LRU-кэш «префикс кода → модель» с автоматическим TTL.
// Пустая модель тоже кэшируется: повторный поиск неизвестного префикса не идёт в БД.
type ModeloCache struct {
	cache *expirable.LRU[string, string]
}

// NewModeloCache создаёт кэш с указанным максимальным размером и TTL.
func NewModeloCache(maxSize int, ttl time.Duration) *ModeloCache {
	return &ModeloCache{cache: expirable.NewLRU[string, string](maxSize, nil, ttl)}
}

// Get возвращает модель по префиксу. Обновляет метрики hit/miss.
func (c *ModeloCache) Get(prefix string) (string, bool) {
	val, ok := c.cache.Get(prefix)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return "", false
}

// Set добавляет или обновляет запись.
func (c *ModeloCache) Set(prefix, modelo string) {
	c.cache.Add(prefix, modelo)
}

// Delete инвалидирует запись после изменения справочника.
func (c *ModeloCache) Delete(prefix string) {
	c.cache.Remove(prefix)
}

// Len — текущее число записей.
func (c *ModeloCache) Len() int {
	return c.cache.Len()
}
