package redirect

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	platformredis "rollcall/internal/platform/redis"
)

const cacheTTL = 10 * time.Minute

// CachedStore layers a Redis read-through cache over the authoritative
// store, for the query path only. Mutating flows resolve against the
// authoritative store inside their transaction. Only positive hits are
// cached: a "no redirect" answer can be invalidated by the very next merge.
// A chain collapse can leave a cached entry pointing at a just-tombstoned
// person until its TTL expires; readers heal that by following the
// tombstone's merged-into pointer.
type CachedStore struct {
	store  Store
	client *platformredis.Client
	logger *slog.Logger
}

func NewCachedStore(store Store, client *platformredis.Client, logger *slog.Logger) *CachedStore {
	return &CachedStore{store: store, client: client, logger: logger}
}

func (s *CachedStore) Create(ctx context.Context, oldID, newID uuid.UUID) error {
	if err := s.store.Create(ctx, oldID, newID); err != nil {
		return err
	}
	if err := s.client.Del(ctx, cacheKey(oldID), cacheKey(newID)).Err(); err != nil {
		// Cache-side failure must not fail the transaction; worst case a
		// lookup takes the store path until the TTL expires.
		s.logger.WarnContext(ctx, "redirect cache invalidation failed", "error", err)
	}
	return nil
}

func (s *CachedStore) Resolve(ctx context.Context, id uuid.UUID) (uuid.UUID, bool, error) {
	val, err := s.client.Get(ctx, cacheKey(id)).Result()
	if err == nil {
		if target, parseErr := uuid.Parse(val); parseErr == nil {
			return target, true, nil
		}
	} else if err != goredis.Nil {
		s.logger.WarnContext(ctx, "redirect cache read failed", "error", err)
	}

	target, found, err := s.store.Resolve(ctx, id)
	if err != nil || !found {
		return target, found, err
	}
	if err := s.client.Set(ctx, cacheKey(id), target.String(), cacheTTL).Err(); err != nil {
		s.logger.WarnContext(ctx, "redirect cache write failed", "error", err)
	}
	return target, true, nil
}

func cacheKey(id uuid.UUID) string {
	return "rollcall:redirect:" + id.String()
}
