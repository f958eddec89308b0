package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/providers"
	"github.com/zatekoja/therapybooking/internal/domain/repositories"
)

// CachedAccountAdapter wraps an AccountRepository with a read-through cache.
// Notification rendering looks up both participants of every booking event.
type CachedAccountAdapter struct {
	adapter repositories.AccountRepository
	cache   providers.CacheProvider
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewCachedAccountAdapter creates a new cached account adapter
func NewCachedAccountAdapter(adapter repositories.AccountRepository, cache providers.CacheProvider, ttl time.Duration, logger zerolog.Logger) *CachedAccountAdapter {
	return &CachedAccountAdapter{
		adapter: adapter,
		cache:   cache,
		ttl:     ttl,
		logger:  logger.With().Str("component", "account_cache").Logger(),
	}
}

func accountCacheKey(id string) string {
	return fmt.Sprintf("account:%s", id)
}

// GetByID retrieves an account by ID with caching
func (a *CachedAccountAdapter) GetByID(ctx context.Context, id string) (*entities.Account, error) {
	cacheKey := accountCacheKey(id)

	if cached, err := a.cache.Get(ctx, cacheKey); err == nil {
		var account entities.Account
		if err := json.Unmarshal(cached, &account); err == nil {
			return &account, nil
		}
		a.logger.Warn().Err(err).Str("account_id", id).Msg("failed to unmarshal cached account")
	}

	account, err := a.adapter.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	a.store(ctx, cacheKey, account)
	return account, nil
}

// Create persists the account and drops any stale cache entry
func (a *CachedAccountAdapter) Create(ctx context.Context, account *entities.Account) error {
	if err := a.adapter.Create(ctx, account); err != nil {
		return err
	}
	if err := a.cache.Delete(ctx, accountCacheKey(account.ID)); err != nil {
		a.logger.Warn().Err(err).Str("account_id", account.ID).Msg("failed to invalidate cached account")
	}
	return nil
}

func (a *CachedAccountAdapter) store(ctx context.Context, key string, account *entities.Account) {
	data, err := json.Marshal(account)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, key, data, a.ttl); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("failed to cache account")
	}
}
