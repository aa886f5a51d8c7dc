package biz

import (
	"sync"

	"OrderRelay/internal/conf"
	pkglog "OrderRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Deduplicator remembers recently seen event ids per session. It is a
// best-effort guard; the store upsert is the real idempotence boundary.
type Deduplicator struct {
	sessions sync.Map // sessionID → *seenSet
	max      int
	evict    int
	logger   *pkglog.LogHelper
}

type seenSet struct {
	mu    sync.Mutex
	cache *lru.Cache[string, struct{}]
}

// DedupStats 去重缓存统计
type DedupStats struct {
	Sessions      int `json:"sessions"`
	TotalEntries  int `json:"totalEntries"`
	MaxPerSession int `json:"maxPerSession"`
}

// NewDeduplicator creates a deduplicator bounded to c.MaxPerSession ids per session.
func NewDeduplicator(c *conf.Dedup, logger log.Logger) *Deduplicator {
	max, fraction := 10000, 0.1
	if c != nil {
		if c.MaxPerSession > 0 {
			max = c.MaxPerSession
		}
		if c.EvictFraction > 0 && c.EvictFraction < 1 {
			fraction = c.EvictFraction
		}
	}
	evict := int(float64(max) * fraction)
	if evict < 1 {
		evict = 1
	}
	return &Deduplicator{max: max, evict: evict, logger: pkglog.NewLogHelper(logger)}
}

func (d *Deduplicator) set(sessionID string) *seenSet {
	if s, ok := d.sessions.Load(sessionID); ok {
		return s.(*seenSet)
	}
	// 容量多留一个位置，溢出时由 trim 按批淘汰，不触发 LRU 的单条淘汰
	cache, _ := lru.New[string, struct{}](d.max + 1)
	s, _ := d.sessions.LoadOrStore(sessionID, &seenSet{cache: cache})
	return s.(*seenSet)
}

// IsDuplicate returns false the first time an id is seen and records it.
func (d *Deduplicator) IsDuplicate(sessionID, eventID string) bool {
	s := d.set(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if found, _ := s.cache.ContainsOrAdd(eventID, struct{}{}); found {
		d.logger.Dedup("duplicate event discarded", "session_id", sessionID, "event_id", eventID)
		return true
	}
	if s.cache.Len() > d.max {
		for i := 0; i < d.evict; i++ {
			s.cache.RemoveOldest()
		}
		d.logger.Dedup("dedup set trimmed", "session_id", sessionID, "evicted", d.evict, "size", s.cache.Len())
	}
	return false
}

// Forget drops ids, used when persisting them failed so a redelivery is not discarded.
func (d *Deduplicator) Forget(sessionID string, eventIDs []string) {
	s := d.set(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range eventIDs {
		s.cache.Remove(id)
	}
}

// Trim halves every set that is above half capacity. Returns the number of ids evicted.
func (d *Deduplicator) Trim() int {
	evicted := 0
	d.sessions.Range(func(_, v interface{}) bool {
		s := v.(*seenSet)
		s.mu.Lock()
		if n := s.cache.Len(); n > d.max/2 {
			for i := 0; i < n/2; i++ {
				s.cache.RemoveOldest()
				evicted++
			}
		}
		s.mu.Unlock()
		return true
	})
	return evicted
}

// Stats 返回所有会话的去重缓存规模
func (d *Deduplicator) Stats() DedupStats {
	stats := DedupStats{MaxPerSession: d.max}
	d.sessions.Range(func(_, v interface{}) bool {
		stats.Sessions++
		stats.TotalEntries += v.(*seenSet).cache.Len()
		return true
	})
	return stats
}

// Size returns the number of remembered ids of one session.
func (d *Deduplicator) Size(sessionID string) int {
	if s, ok := d.sessions.Load(sessionID); ok {
		return s.(*seenSet).cache.Len()
	}
	return 0
}
