package teamtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var acquireScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then
    redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
    return {1, ARGV[1], tonumber(ARGV[2])}
end
if cur == ARGV[1] then
    redis.call("PEXPIRE", KEYS[1], ARGV[2])
    return {1, cur, tonumber(ARGV[2])}
end
return {0, cur, redis.call("PTTL", KEYS[1])}
`)

var refreshScript = redis.NewScript(`
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

// RedisStore implements Store on Redis. The owner is stored as the key's
// value and compared inside Lua scripts, so a lease can only be extended or
// deleted by the session that holds it.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore returns a store backed by client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// Acquire implements Store.
func (s *RedisStore) Acquire(ctx context.Context, key string, owner Owner, ttl time.Duration) (Lease, bool, error) {
	val, err := encodeOwner(owner)
	if err != nil {
		return Lease{}, false, err
	}
	res, err := acquireScript.Run(ctx, s.client, []string{key}, val, ttl.Milliseconds()).Slice()
	if err != nil {
		return Lease{}, false, unavailable(err)
	}
	if len(res) != 3 {
		return Lease{}, false, fmt.Errorf("teamtest: unexpected acquire reply %v", res)
	}
	granted, _ := res[0].(int64)
	cur, _ := res[1].(string)
	pttl, _ := res[2].(int64)
	holder, err := decodeOwner(cur)
	if err != nil {
		return Lease{}, false, err
	}
	lease := Lease{Key: key, Owner: holder, ExpiresAt: s.now().Add(time.Duration(pttl) * time.Millisecond)}
	return lease, granted == 1, nil
}

// Refresh implements Store.
func (s *RedisStore) Refresh(ctx context.Context, key string, owner Owner, ttl time.Duration) (Lease, bool, error) {
	val, err := encodeOwner(owner)
	if err != nil {
		return Lease{}, false, err
	}
	n, err := refreshScript.Run(ctx, s.client, []string{key}, val, ttl.Milliseconds()).Int64()
	if err != nil {
		return Lease{}, false, unavailable(err)
	}
	if n == 0 {
		return Lease{}, false, nil
	}
	return Lease{Key: key, Owner: owner, ExpiresAt: s.now().Add(ttl)}, true, nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key string, owner Owner) (bool, error) {
	val, err := encodeOwner(owner)
	if err != nil {
		return false, err
	}
	n, err := releaseScript.Run(ctx, s.client, []string{key}, val).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (Lease, bool, error) {
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Lease{}, false, unavailable(err)
	}
	val, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, unavailable(err)
	}
	holder, err := decodeOwner(val)
	if err != nil {
		return Lease{}, false, err
	}
	return Lease{Key: key, Owner: holder, ExpiresAt: s.now().Add(ttlCmd.Val())}, true, nil
}

func encodeOwner(o Owner) (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeOwner(s string) (Owner, error) {
	var o Owner
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		return Owner{}, fmt.Errorf("teamtest: decode lease owner: %w", err)
	}
	return o, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
