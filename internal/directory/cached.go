package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"teamchat/internal/domain"
)

const (
	// DefaultCacheTTL bounds how stale a cached summary may be
	DefaultCacheTTL = 5 * time.Minute
	cacheKeyPrefix  = "user_summary:"
)

// CachedDirectory fronts another directory with a Redis cache-aside layer.
// Redis failures degrade to a direct lookup.
type CachedDirectory struct {
	next UserDirectory
	rdb  *redis.Client
	ttl  time.Duration
}

// NewCachedDirectory wraps next with a Redis cache
func NewCachedDirectory(next UserDirectory, rdb *redis.Client, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedDirectory{next: next, rdb: rdb, ttl: ttl}
}

func cacheKey(emailOrID string) string {
	return cacheKeyPrefix + strings.ToLower(strings.TrimSpace(emailOrID))
}

func (d *CachedDirectory) Resolve(ctx context.Context, emailOrID string) (domain.UserSummary, error) {
	key := cacheKey(emailOrID)

	raw, err := d.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var summary domain.UserSummary
		if jsonErr := json.Unmarshal(raw, &summary); jsonErr == nil {
			return summary, nil
		}
	case !errors.Is(err, redis.Nil):
		slog.Warn("user directory cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}

	summary, err := d.next.Resolve(ctx, emailOrID)
	if err != nil {
		return domain.UserSummary{}, err
	}

	if encoded, err := json.Marshal(summary); err == nil {
		if err := d.rdb.Set(ctx, key, encoded, d.ttl).Err(); err != nil {
			slog.Warn("user directory cache write failed",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}
	return summary, nil
}

// Invalidate drops cached entries for a user after a profile edit
func (d *CachedDirectory) Invalidate(ctx context.Context, summary domain.UserSummary) {
	keys := []string{cacheKey(summary.ID)}
	if summary.Email != "" {
		keys = append(keys, cacheKey(summary.Email))
	}
	if err := d.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("user directory cache invalidation failed",
			slog.String("user_id", summary.ID),
			slog.String("error", err.Error()))
	}
}
