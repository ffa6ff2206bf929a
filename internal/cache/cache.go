// Package cache adds a redis-backed decision cache in front of the
// resolution engine. Resolutions are pure over the store snapshot, so a
// cached decision stays valid until a grant in its organization
// changes; the service invalidates per organization on every mutation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"accessgrid.org/internal/access"
	"accessgrid.org/internal/obs"
)

const defaultPrefix = "accessgrid:resolve"

// Engine is the resolver being wrapped.
type Engine interface {
	Resolve(ctx context.Context, req access.ResolveRequest) (access.Level, error)
}

// Resolver caches resolve outcomes. A nil redis client degrades to a
// transparent pass-through, so callers never branch on cache presence.
type Resolver struct {
	inner  Engine
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// New wraps engine with a decision cache.
func New(engine Engine, rdb *redis.Client, ttl time.Duration) (*Resolver, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{inner: engine, rdb: rdb, ttl: ttl, prefix: defaultPrefix}, nil
}

// Resolve answers from the cache when possible, falling through to the
// wrapped engine on miss or any cache failure.
func (r *Resolver) Resolve(ctx context.Context, req access.ResolveRequest) (access.Level, error) {
	if r.rdb == nil {
		return r.inner.Resolve(ctx, req)
	}

	key := r.key(req)
	val, err := r.rdb.Get(ctx, key).Result()
	if err == nil {
		if level, perr := access.ParseLevel(val); perr == nil {
			obs.ObserveResolveCache("hit")
			return level, nil
		}
	} else if err != redis.Nil {
		obs.ObserveResolveCache("error")
	}

	obs.ObserveResolveCache("miss")
	level, err := r.inner.Resolve(ctx, req)
	if err != nil {
		return level, err
	}
	// Failing to cache is not failing to resolve.
	_ = r.rdb.Set(ctx, key, level.String(), r.ttl).Err()
	return level, nil
}

// InvalidateOrganization drops every cached decision for the
// organization.
func (r *Resolver) InvalidateOrganization(ctx context.Context, organizationID string) error {
	if r.rdb == nil || organizationID == "" {
		return nil
	}
	pattern := fmt.Sprintf("%s:%s:*", r.prefix, organizationID)
	iter := r.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

// key builds a deterministic cache key: scope and target stay readable
// for pattern invalidation, the group set is hashed order-independently.
func (r *Resolver) key(req access.ResolveRequest) string {
	ids := make([]string, 0, len(req.GroupIDs))
	for _, id := range req.GroupIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	h := fnv.New64a()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	unit := req.Scope.OperatingUnitID
	if unit == "" {
		unit = "-"
	}
	feature := req.FeatureKey
	if feature == "" {
		feature = "-"
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s:%016x",
		r.prefix, req.Scope.OrganizationID, unit, req.ModuleKey, feature, h.Sum64())
}
