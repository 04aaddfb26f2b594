package incremental

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps snapshots under "<prefix>:snapshot:<service>".
type RedisStore struct {
	rc     redis.Cmdable
	prefix string
}

func NewRedisStore(rc redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "covhook"
	}
	return &RedisStore{rc: rc, prefix: prefix}
}

func (r *RedisStore) key(service string) string {
	return fmt.Sprintf("%s:snapshot:%s", r.prefix, service)
}

func (r *RedisStore) Load(ctx context.Context, service string) (Snapshot, bool, error) {
	raw, err := r.rc.Get(ctx, r.key(service)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decoding snapshot for %s: %w", service, err)
	}
	return snap, true, nil
}

func (r *RedisStore) Save(ctx context.Context, service string, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.rc.Set(ctx, r.key(service), raw, 0).Err()
}
