package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/pdp"
)

// RedisOverrideStore keeps freeze override tokens in Redis
// (key: override:{tokenID}). The Redis TTL mirrors the token expiry so
// expired tokens disappear on their own.
type RedisOverrideStore struct {
	client *redis.Client
	keyFmt string
}

func NewRedisOverrideStore(client *redis.Client) *RedisOverrideStore {
	return &RedisOverrideStore{client: client, keyFmt: "override:%s"}
}

func (r *RedisOverrideStore) key(tokenID string) string {
	return fmt.Sprintf(r.keyFmt, tokenID)
}

func (r *RedisOverrideStore) Put(ctx context.Context, token *pdp.OverrideToken) error {
	if token == nil || token.ID == "" {
		return fmt.Errorf("override token requires an id")
	}
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("override token %s already expired", token.ID)
	}
	return r.client.Set(ctx, r.key(token.ID), data, ttl).Err()
}

func (r *RedisOverrideStore) Get(ctx context.Context, tokenID string) (*pdp.OverrideToken, error) {
	data, err := r.client.Get(ctx, r.key(tokenID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	token := &pdp.OverrideToken{}
	if err := json.Unmarshal(data, token); err != nil {
		return nil, err
	}
	return token, nil
}

func (r *RedisOverrideStore) Revoke(ctx context.Context, tokenID string) error {
	return r.client.Del(ctx, r.key(tokenID)).Err()
}
