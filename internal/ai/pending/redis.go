package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "nestor:pending:"

type RedisOptions struct {
	Client *redis.Client
	// Prefix namespaces keys. Defaults to "nestor:pending:".
	Prefix string
	// TTL is the confirmation window. Keys are kept for twice as long so an expired action is
	// still visible to the caller that has to report it.
	TTL time.Duration
}

// RedisStore keeps pending actions in Redis, one JSON value per user.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, errors.New("nil redis client")
	}
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: opts.Client, prefix: prefix, ttl: ttl}, nil
}

func (s *RedisStore) key(userID int64) string {
	return s.prefix + strconv.FormatInt(userID, 10)
}

func (s *RedisStore) Get(ctx context.Context, userID int64) (*Action, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var a Action
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode pending action: %w", err)
	}
	return &a, nil
}

func (s *RedisStore) Put(ctx context.Context, a Action) error {
	if err := validate(a); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode pending action: %w", err)
	}
	return s.client.Set(ctx, s.key(a.UserID), b, 2*s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, userID int64) (bool, error) {
	n, err := s.client.Del(ctx, s.key(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// deleteIfUnchanged removes KEYS[1] only while it still holds ARGV[1].
var deleteIfUnchanged = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// PurgeExpired scans the key space and removes actions past ttl.
//
// The delete is conditional on the value that was read, so an action staged between the read and
// the delete survives.
func (s *RedisStore) PurgeExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, err
		}
		var a Action
		if err := json.Unmarshal([]byte(raw), &a); err == nil && !a.Expired(now, ttl) {
			continue
		}
		n, err := deleteIfUnchanged.Run(ctx, s.client, []string{key}, raw).Int()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, iter.Err()
}
