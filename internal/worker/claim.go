package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claimer marks a scan key as taken across processes.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisClaimer claims keys with SET NX. The TTL frees keys held by a
// process that died mid-scan.
type RedisClaimer struct {
	rc     redis.Cmdable
	prefix string
	owner  string
	ttl    time.Duration
}

func NewRedisClaimer(rc redis.Cmdable, prefix, owner string, ttl time.Duration) *RedisClaimer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisClaimer{rc: rc, prefix: prefix, owner: owner, ttl: ttl}
}

func (c *RedisClaimer) key(k string) string {
	return c.prefix + ":claim:" + k
}

func (c *RedisClaimer) Claim(ctx context.Context, key string) (bool, error) {
	nx := redis.SetArgs{Mode: "NX", TTL: c.ttl}
	err := c.rc.SetArgs(ctx, c.key(key), c.owner, nx).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// releaseScript deletes the key only while we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (c *RedisClaimer) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, c.rc, []string{c.key(key)}, c.owner).Err()
}
