package stock

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/stockflow/internal/event"
)

const cachePrefix = "stockflow:stock"

// Cache fronts single-record reads with Redis. A nil Cache or one without a
// client passes every read through to the loader.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache builds the read cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{client: client, ttl: ttl}
}

// Get loads a record from Redis or from load on a miss. Misses for the same
// key are collapsed into one load. ErrNotFound is never cached.
func (c *Cache) Get(ctx context.Context, key event.Key, load func(context.Context) (Record, error)) (Record, error) {
	if load == nil {
		return Record{}, errors.New("stock: cache loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx)
	}
	ck := cacheKey(key)
	payload, err := c.client.Get(ctx, ck).Bytes()
	if err == nil {
		var rec Record
		if err := json.Unmarshal(payload, &rec); err == nil {
			return rec, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return load(ctx)
	}
	gk := generationKey(key)
	v, err, _ := c.group.Do(ck, func() (interface{}, error) {
		gen, genErr := c.client.Get(ctx, gk).Result()
		rec, err := load(ctx)
		if err != nil {
			return Record{}, err
		}
		if genErr == nil || errors.Is(genErr, redis.Nil) {
			c.store(ctx, ck, gk, gen, rec)
		}
		return rec, nil
	})
	if err != nil {
		return Record{}, err
	}
	return v.(Record), nil
}

// store writes rec unless the key was invalidated after gen was read, so a
// load that raced a commit never caches the pre-commit record.
func (c *Cache) store(ctx context.Context, ck, gk, gen string, rec Record) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gk).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, ck, raw, c.ttl)
			return nil
		})
		return err
	}, gk)
}

// Invalidate drops the cached record for key and bumps its generation.
func (c *Cache) Invalidate(ctx context.Context, key event.Key) error {
	if c == nil || c.client == nil {
		return nil
	}
	gk := generationKey(key)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, gk)
		p.Expire(ctx, gk, c.ttl)
		p.Del(ctx, cacheKey(key))
		return nil
	})
	return err
}

func cacheKey(key event.Key) string {
	return strings.Join([]string{cachePrefix, key.String()}, ":")
}

func generationKey(key event.Key) string {
	return strings.Join([]string{cachePrefix, "gen", key.String()}, ":")
}
