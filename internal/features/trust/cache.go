package trust

import (
	"sync"
	"time"

	"github.com/coocood/freecache"
	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/watch-rewards/internal/common"
)

// minCacheBytes — меньше freecache всё равно не выделит.
const minCacheBytes = 512 * 1024

// clockTimer отдаёт freecache время из common.Clock, чтобы TTL можно было двигать в тестах.
type clockTimer struct {
	clock common.Clock
}

func (t clockTimer) Now() uint32 {
	return uint32(t.clock.Now().Unix())
}

// Cache — кэш состояний доверия с TTL.
// Движок сбрасывает запись устройства при каждом обновлении, поэтому TTL
// ограничивает только устаревание при записи в обход сервиса.
//
// Читатель берёт Generation до чтения хранилища и передаёт её в Set.
// Если между ними был Invalidate, Set ничего не пишет: иначе состояние,
// прочитанное до обновления, легло бы в кэш после сброса.
type Cache struct {
	fc  *freecache.Cache
	ttl int

	mu  sync.Mutex
	gen uint64
}

// NewCache создаёт кэш размером sizeMB. ttl <= 0 отключает кэширование.
func NewCache(sizeMB int, ttl time.Duration, clock common.Clock) *Cache {
	size := sizeMB * 1024 * 1024
	if size < minCacheBytes {
		size = minCacheBytes
	}
	return &Cache{
		fc:  freecache.NewCacheCustomTimer(size, clockTimer{clock: clock}),
		ttl: int(ttl / time.Second),
	}
}

func cacheKey(userID, fingerprint string) []byte {
	return []byte(userID + "\x00" + fingerprint)
}

// Get возвращает состояние, если оно есть и не истекло.
func (c *Cache) Get(userID, fingerprint string) (State, bool) {
	if c.ttl <= 0 {
		return State{}, false
	}
	raw, err := c.fc.Get(cacheKey(userID, fingerprint))
	if err != nil {
		return State{}, false
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, false
	}
	return st, true
}

// Generation возвращает номер текущего поколения кэша.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Set кладёт состояние в кэш, если с поколения gen не было сбросов.
func (c *Cache) Set(userID, fingerprint string, st State, gen uint64) {
	if c.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	if err := c.fc.Set(cacheKey(userID, fingerprint), raw, c.ttl); err != nil {
		log.WithError(err).Debug("Состояние доверия не помещается в кэш")
	}
}

// Invalidate удаляет состояние устройства и начинает новое поколение.
func (c *Cache) Invalidate(userID, fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.fc.Del(cacheKey(userID, fingerprint))
}
