package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisHandle carries the token written at acquire time so Renew/Release
// can use a compare-and-delete, preventing a holder from renewing or
// releasing a lock that a different contender has since acquired after this
// one's lease expired.
type redisHandle struct {
	name  string
	token string
}

func (h redisHandle) Name() string { return h.name }

// RedisLocker implements Locker with Redis SETNX-based leases, the same
// primitive gobite's internal/pkg/idempotency.StateTracker uses to mark
// operation state, generalized here into a renewable mutual-exclusion lock.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker constructs a Redis-backed Locker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "silverback:lock:"}
}

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Handle, error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}

	key := l.prefix + name
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyHeld
	}
	return redisHandle{name: name, token: token}, nil
}

func (l *RedisLocker) Renew(ctx context.Context, handle Handle, ttl time.Duration) error {
	h, ok := handle.(redisHandle)
	if !ok {
		return ErrNotHeld
	}
	res, err := renewScript.Run(ctx, l.client, []string{l.prefix + h.name}, h.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *RedisLocker) Release(ctx context.Context, handle Handle) error {
	h, ok := handle.(redisHandle)
	if !ok {
		return ErrNotHeld
	}
	res, err := releaseScript.Run(ctx, l.client, []string{l.prefix + h.name}, h.token).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.New("lock: token generation failed: " + err.Error())
	}
	return hex.EncodeToString(buf), nil
}
