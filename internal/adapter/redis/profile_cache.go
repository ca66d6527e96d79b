package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/pscheid92/jobpulse/internal/adapter/metrics"
	"github.com/pscheid92/jobpulse/internal/domain"
)

const profileCacheTTL = 10 * time.Minute

// ProfileCache answers skill lookups from memory, then Redis, then the backing store.
// Users without a profile are cached too, so a job broadcast does not hammer the
// database for every anonymous-looking recipient.
type ProfileCache struct {
	rdb      goredis.Cmdable
	profiles domain.ProfileStore
	mem      *memoryCache
	group    singleflight.Group
	clock    clockwork.Clock
	metrics  *metrics.CacheMetrics
}

var (
	_ domain.ProfileStore       = (*ProfileCache)(nil)
	_ domain.ProfileInvalidator = (*ProfileCache)(nil)
)

// profileEntry is the cached form. Found=false records a missing profile.
type profileEntry struct {
	Skills []string `json:"skills"`
	Found  bool     `json:"found"`
}

func NewProfileCache(rdb goredis.Cmdable, profiles domain.ProfileStore, memCacheTTL time.Duration, clock clockwork.Clock, m *metrics.CacheMetrics) *ProfileCache {
	return &ProfileCache{
		rdb:      rdb,
		profiles: profiles,
		mem:      newMemoryCache(memCacheTTL, clock),
		clock:    clock,
		metrics:  m,
	}
}

// StartEvictionTimer runs a periodic goroutine that evicts expired in-memory entries.
// Returns a stop function that should be deferred.
func (c *ProfileCache) StartEvictionTimer(interval time.Duration) func() {
	ticker := c.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if evicted := c.mem.evictExpired(); evicted > 0 {
					slog.Debug("Evicted expired profile cache entries", "count", evicted, "remaining", c.mem.size())
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (c *ProfileCache) GetSkills(ctx context.Context, userID domain.UserID) ([]string, error) {
	// Layer 1: in-memory cache
	if entry, ok := c.mem.get(userID); ok {
		c.metrics.Hit("memory")
		return entry.result()
	}
	c.metrics.Miss("memory")

	v, err, _ := c.group.Do(userID.String(), func() (any, error) {
		// Layer 2: Redis cache
		if entry, ok := c.getCached(ctx, userID); ok {
			c.metrics.Hit("redis")
			c.mem.set(userID, entry)
			return entry, nil
		}
		c.metrics.Miss("redis")

		// Layer 3: PostgreSQL
		skills, err := c.profiles.GetSkills(ctx, userID)
		if err != nil && !errors.Is(err, domain.ErrProfileNotFound) {
			return profileEntry{}, fmt.Errorf("profile lookup failed: %w", err)
		}

		entry := profileEntry{Skills: skills, Found: err == nil}
		c.mem.set(userID, entry)
		c.writeCache(ctx, userID, entry)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(profileEntry).result()
}

// InvalidateProfile evicts userID from both the in-memory cache and Redis.
func (c *ProfileCache) InvalidateProfile(ctx context.Context, userID domain.UserID) error {
	c.mem.invalidate(userID)
	c.metrics.Invalidated()

	if err := c.rdb.Del(ctx, profileCacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate profile cache: %w", err)
	}
	return nil
}

func (c *ProfileCache) writeCache(ctx context.Context, userID domain.UserID, entry profileEntry) {
	encoded, err := json.Marshal(entry)
	if err != nil {
		slog.WarnContext(ctx, "Failed to marshal profile for Redis cache", "user_id", userID, "error", err)
		return
	}

	if err := c.rdb.Set(ctx, profileCacheKey(userID), encoded, profileCacheTTL).Err(); err != nil {
		slog.WarnContext(ctx, "Failed to populate Redis profile cache", "user_id", userID, "error", err)
	}
}

func (c *ProfileCache) getCached(ctx context.Context, userID domain.UserID) (profileEntry, bool) {
	data, err := c.rdb.Get(ctx, profileCacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			slog.WarnContext(ctx, "Redis profile cache GET failed", "user_id", userID, "error", err)
		}
		return profileEntry{}, false
	}

	var entry profileEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		slog.WarnContext(ctx, "Failed to unmarshal cached profile", "user_id", userID, "error", err)
		return profileEntry{}, false
	}
	return entry, true
}

func (e profileEntry) result() ([]string, error) {
	if !e.Found {
		return nil, domain.ErrProfileNotFound
	}
	return append([]string(nil), e.Skills...), nil
}

func profileCacheKey(userID domain.UserID) string {
	return "profile_skills:" + userID.String()
}

// memoryCache is an in-memory L1 cache with TTL-based expiry.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[domain.UserID]memoryCacheEntry
	ttl     time.Duration
	clock   clockwork.Clock
}

type memoryCacheEntry struct {
	profile   profileEntry
	expiresAt time.Time
}

func newMemoryCache(ttl time.Duration, clock clockwork.Clock) *memoryCache {
	return &memoryCache{
		entries: make(map[domain.UserID]memoryCacheEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

func (c *memoryCache) get(userID domain.UserID) (profileEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[userID]
	if !ok || c.clock.Now().After(entry.expiresAt) {
		return profileEntry{}, false
	}
	return entry.profile, true
}

func (c *memoryCache) set(userID domain.UserID, profile profileEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[userID] = memoryCacheEntry{
		profile:   profile,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}

func (c *memoryCache) invalidate(userID domain.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

func (c *memoryCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *memoryCache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}
