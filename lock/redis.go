package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Redis locks keys with SET NX and a random token; only the token owner
// can release. Keys expire after ttl so a crashed holder cannot block a
// key forever.
type Redis struct {
	client *redis.Client
	script *redis.Script
	prefix string
	ttl    time.Duration
	retry  time.Duration
	log    *zap.Logger
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) (*Redis, error) {
	if client == nil {
		return nil, errors.New("lock client not configured")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client: client,
		script: redis.NewScript(releaseScript),
		prefix: prefix,
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		log:    logger.Named("lock"),
	}, nil
}

func (r *Redis) TryLock(ctx context.Context, key string) (Unlock, bool, error) {
	if key == "" {
		return nil, false, errors.New("lock key is empty")
	}
	full := r.prefix + key
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return r.unlocker(full, token), true, nil
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		unlock, ok, err := r.TryLock(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return unlock, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Redis) unlocker(key, token string) Unlock {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's context may already be canceled; release anyway.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.script.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			r.log.Warn("lock release failed", zap.String("key", key), zap.Error(err))
		}
	}
}
