// Пакет service — бизнес-логика LinkDrop.
// cache.go — LRU-кэш записей о файлах с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/linkdrop/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ld_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш записей.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ld_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша записей.",
	})
	cacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ld_cache_evictions_total",
		Help: "Общее количество записей, покинувших кэш (вытеснение, TTL или инвалидация).",
	})
)

// CacheService — LRU-кэш записей о файлах с автоматическим TTL.
// Снижает нагрузку на реестр при повторных обращениях по одной ссылке.
//
// Кэш не продлевает жизнь ссылки: TTL кэша много меньше окна хранения,
// удаление и очистка инвалидируют запись, а попадание дополнительно
// проверяется на истечение срока в TransferService.GetInfo.
type CacheService struct {
	cache *expirable.LRU[string, *model.FileRecord]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
// maxSize — максимальное количество записей в кэше.
// ttl — время жизни записи после добавления.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	onEvict := func(_ string, _ *model.FileRecord) {
		cacheEvictionsTotal.Inc()
	}
	cache := expirable.NewLRU[string, *model.FileRecord](maxSize, onEvict, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает FileRecord из кэша по токену.
// Возвращает (запись, true) при hit или (nil, false) при miss.
// Обновляет Prometheus-метрики hit/miss.
func (c *CacheService) Get(token string) (*model.FileRecord, bool) {
	val, ok := c.cache.Get(token)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись в кэше.
func (c *CacheService) Set(token string, record *model.FileRecord) {
	c.cache.Add(token, record)
}

// Delete удаляет запись из кэша (инвалидация при удалении файла).
func (c *CacheService) Delete(token string) {
	c.cache.Remove(token)
}

// Len возвращает текущее количество записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}
