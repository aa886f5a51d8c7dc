package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"OrderRelay/internal/conf"
	"OrderRelay/internal/model"
	"OrderRelay/pkg/crypto"
	pkgerrors "OrderRelay/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

var (
	// ErrTokenNotFound 会话没有可用的 access token
	ErrTokenNotFound = errors.New("ifood token not found")
	ErrTokenExpired  = errors.New("ifood token expired")
)

// TokenRecord is the GORM model for ifood_tokens table.
// AccessToken holds ciphertext when an encryption key is configured.
type TokenRecord struct {
	ID          int64      `gorm:"primaryKey;column:id"`
	UserID      string     `gorm:"column:user_id;size:128;not null;uniqueIndex"`
	AccessToken string     `gorm:"column:access_token;type:text;not null"`
	ExpiresAt   *time.Time `gorm:"column:expires_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (TokenRecord) TableName() string {
	return "ifood_tokens"
}

// MerchantRecord is the GORM model for ifood_merchants table.
type MerchantRecord struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	UserID     string    `gorm:"column:user_id;size:128;not null;uniqueIndex:idx_user_merchant,priority:1"`
	MerchantID string    `gorm:"column:merchant_id;size:128;not null;uniqueIndex:idx_user_merchant,priority:2"`
	Name       string    `gorm:"column:name;size:255"`
	Active     bool      `gorm:"column:active;not null;default:true"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (MerchantRecord) TableName() string {
	return "ifood_merchants"
}

// cachedToken is the L2 cache entry; the token stays in its stored form.
type cachedToken struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CredentialRepo implements biz.CredentialProvider over ifood_tokens and
// ifood_merchants with Redis as a shared L2 cache.
type CredentialRepo struct {
	db     *gorm.DB
	cache  CacheClient
	aes    *crypto.AESCrypto
	logger *log.Helper
	now    func() time.Time
}

// NewCredentialRepo fails when a configured encryption key is invalid.
func NewCredentialRepo(c *conf.Data, data *Data, logger log.Logger) (*CredentialRepo, error) {
	r := &CredentialRepo{
		db:     data.GetDB(),
		logger: log.NewHelper(logger),
		now:    time.Now,
	}
	if data.GetRedisClient() != nil {
		r.cache = data.GetCache()
	}
	if c != nil && c.Credentials != nil && c.Credentials.EncryptionKey != "" {
		aes, err := crypto.NewAESCryptoFromString(c.Credentials.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("credential encryption key: %w", err)
		}
		r.aes = aes
	}
	return r, nil
}

// GetCredential returns the decrypted access token of a session.
func (r *CredentialRepo) GetCredential(ctx context.Context, sessionID string) (*model.Credential, error) {
	entry, err := r.loadToken(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if entry.ExpiresAt != nil && !entry.ExpiresAt.After(r.now()) {
		return nil, fmt.Errorf("%w: session %s expired at %s", ErrTokenExpired, sessionID, entry.ExpiresAt.Format(time.RFC3339))
	}

	token := entry.Token
	if r.aes != nil {
		if token, err = r.aes.Decrypt(entry.Token); err != nil {
			return nil, fmt.Errorf("decrypt token for session %s: %w", sessionID, err)
		}
	}
	cred := &model.Credential{AccessToken: token}
	if entry.ExpiresAt != nil {
		cred.ExpiresAt = *entry.ExpiresAt
	}
	return cred, nil
}

func (r *CredentialRepo) loadToken(ctx context.Context, sessionID string) (*cachedToken, error) {
	key := BuildCacheKey(CacheKeyToken, sessionID)
	if r.cache != nil {
		var entry cachedToken
		err := r.cache.Get(ctx, key, &entry)
		if err == nil {
			return &entry, nil
		}
		if !errors.Is(err, ErrCacheNotFound) {
			r.logger.Warnw("msg", "token cache read failed (degraded mode)", "session_id", sessionID, "error", err)
		}
	}

	var row TokenRecord
	if err := r.db.WithContext(ctx).Where("user_id = ?", sessionID).First(&row).Error; err != nil {
		if pkgerrors.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: session %s", ErrTokenNotFound, sessionID)
		}
		return nil, dbError("load token", err)
	}
	entry := &cachedToken{Token: row.AccessToken, ExpiresAt: row.ExpiresAt}

	if r.cache != nil {
		ttl := TTLToken
		if entry.ExpiresAt != nil {
			if left := entry.ExpiresAt.Sub(r.now()); left < ttl {
				ttl = left
			}
		}
		if ttl > 0 {
			if err := r.cache.Set(ctx, key, entry, ttl); err != nil {
				r.logger.Warnw("msg", "token cache write failed (degraded mode)", "session_id", sessionID, "error", err)
			}
		}
	}
	return entry, nil
}

// GetMerchantIDs returns the active merchant ids of a session, sorted.
func (r *CredentialRepo) GetMerchantIDs(ctx context.Context, sessionID string) ([]string, error) {
	key := BuildCacheKey(CacheKeyMerchants, sessionID)
	if r.cache != nil {
		var ids []string
		err := r.cache.Get(ctx, key, &ids)
		if err == nil {
			return ids, nil
		}
		if !errors.Is(err, ErrCacheNotFound) {
			r.logger.Warnw("msg", "merchant cache read failed (degraded mode)", "session_id", sessionID, "error", err)
		}
	}

	var ids []string
	err := r.db.WithContext(ctx).Model(&MerchantRecord{}).
		Where("user_id = ? AND active = ?", sessionID, true).
		Order("merchant_id ASC").
		Pluck("merchant_id", &ids).Error
	if err != nil {
		return nil, dbError("load merchants", err)
	}

	// 空集合不缓存，新增商户可以立即生效
	if r.cache != nil && len(ids) > 0 {
		if err := r.cache.Set(ctx, key, ids, TTLMerchants); err != nil {
			r.logger.Warnw("msg", "merchant cache write failed (degraded mode)", "session_id", sessionID, "error", err)
		}
	}
	return ids, nil
}

// SaveCredential stores (or replaces) the access token of a session and
// drops the cached copy.
func (r *CredentialRepo) SaveCredential(ctx context.Context, sessionID, token string, expiresAt *time.Time) error {
	stored := token
	if r.aes != nil {
		enc, err := r.aes.Encrypt(token)
		if err != nil {
			return fmt.Errorf("encrypt token for session %s: %w", sessionID, err)
		}
		stored = enc
	}

	row := &TokenRecord{UserID: sessionID, AccessToken: stored, ExpiresAt: expiresAt}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&TokenRecord{}).Where("user_id = ?", sessionID).
			Updates(map[string]interface{}{"access_token": stored, "expires_at": expiresAt, "updated_at": r.now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return dbError("save token", err)
	}

	if r.cache != nil {
		if err := r.cache.Delete(ctx, BuildCacheKey(CacheKeyToken, sessionID)); err != nil {
			r.logger.Warnw("msg", "token cache delete failed (degraded mode)", "session_id", sessionID, "error", err)
		}
	}
	return nil
}
