package acquire

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTitlePrefix = "redub:title:"

// RedisTitleCache shares resolved titles across processes.
type RedisTitleCache struct {
	client *redis.Client
}

func NewRedisTitleCache(client *redis.Client) *RedisTitleCache {
	return &RedisTitleCache{client: client}
}

func (r *RedisTitleCache) Get(ctx context.Context, sourceID string) (string, bool, error) {
	title, err := r.client.Get(ctx, redisTitlePrefix+sourceID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return title, true, nil
}

func (r *RedisTitleCache) Set(ctx context.Context, sourceID, title string, ttl time.Duration) error {
	return r.client.Set(ctx, redisTitlePrefix+sourceID, title, ttl).Err()
}

func (r *RedisTitleCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
