package biz

import (
	"context"
	"sync/atomic"
	"time"

	"OrderRelay/internal/conf"
	"OrderRelay/internal/model"
	pkglog "OrderRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CredentialCache is the read-through TTL cache in front of the
// CredentialProvider. Expired entries are never served.
type CredentialCache struct {
	provider  CredentialProvider
	tokens    *expirable.LRU[string, *model.Credential]
	merchants *expirable.LRU[string, []string]
	max       int

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	logger *pkglog.LogHelper
}

// CacheStats 缓存命中统计
type CacheStats struct {
	Tokens    int   `json:"tokens"`
	Merchants int   `json:"merchants"`
	MaxSize   int   `json:"maxSize"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// NewCredentialCache wraps provider with token and merchant caches.
func NewCredentialCache(c *conf.Cache, provider CredentialProvider, logger log.Logger) *CredentialCache {
	tokenTTL, merchantTTL, max := 5*time.Minute, 10*time.Minute, 10000
	if c != nil {
		if c.CredentialTTL > 0 {
			tokenTTL = c.CredentialTTL
		}
		if c.MerchantTTL > 0 {
			merchantTTL = c.MerchantTTL
		}
		if c.MaxEntries > 0 {
			max = c.MaxEntries
		}
	}
	cc := &CredentialCache{provider: provider, max: max, logger: pkglog.NewLogHelper(logger)}
	cc.tokens = expirable.NewLRU[string, *model.Credential](max, func(string, *model.Credential) { cc.evictions.Add(1) }, tokenTTL)
	cc.merchants = expirable.NewLRU[string, []string](max, func(string, []string) { cc.evictions.Add(1) }, merchantTTL)
	return cc
}

// GetCredential returns the cached credential or loads it. A credential
// already past its own expiry is reloaded.
func (cc *CredentialCache) GetCredential(ctx context.Context, sessionID string) (*model.Credential, error) {
	if cred, ok := cc.tokens.Get(sessionID); ok && (cred.ExpiresAt.IsZero() || time.Now().Before(cred.ExpiresAt)) {
		cc.hits.Add(1)
		return cred, nil
	}
	cc.misses.Add(1)

	cred, err := cc.provider.GetCredential(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cred == nil || cred.AccessToken == "" {
		return nil, ErrNoCredential
	}
	cc.tokens.Add(sessionID, cred)
	return cred, nil
}

// GetMerchantIDs returns the cached merchant set or loads it.
func (cc *CredentialCache) GetMerchantIDs(ctx context.Context, sessionID string) ([]string, error) {
	if ids, ok := cc.merchants.Get(sessionID); ok {
		cc.hits.Add(1)
		return ids, nil
	}
	cc.misses.Add(1)

	ids, err := cc.provider.GetMerchantIDs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		cc.merchants.Add(sessionID, ids)
	}
	return ids, nil
}

// Invalidate drops both entries of a session, e.g. after the upstream rejected the token.
func (cc *CredentialCache) Invalidate(sessionID string) {
	cc.tokens.Remove(sessionID)
	cc.merchants.Remove(sessionID)
}

// Purge empties both caches.
func (cc *CredentialCache) Purge() {
	cc.tokens.Purge()
	cc.merchants.Purge()
}

// Stats returns current sizes and counters.
func (cc *CredentialCache) Stats() CacheStats {
	return CacheStats{
		Tokens:    cc.tokens.Len(),
		Merchants: cc.merchants.Len(),
		MaxSize:   cc.max,
		Hits:      cc.hits.Load(),
		Misses:    cc.misses.Load(),
		Evictions: cc.evictions.Load(),
	}
}

// LogStats 由定时任务调用
func (cc *CredentialCache) LogStats() {
	s := cc.Stats()
	cc.logger.CacheStats("credentials", int64(s.Tokens+s.Merchants), int64(2*s.MaxSize), s.Hits, s.Misses, s.Evictions)
}
