package refresh

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Release only deletes the key when it still carries our token; a lease that
// expired and was re-acquired by another holder stays untouched.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is the multi-instance Locker: SET NX PX gives the lease, the
// compare-and-delete script gives crash-safe release. Independent worker
// instances racing on the same identity serialize here.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker creates a lease locker on an existing Redis client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "vaultlock:"}
}

// Acquire takes the lock for key, polling until ctx expires.
func (l *RedisLocker) Acquire(
	ctx context.Context,
	key string,
	lease time.Duration,
) (Lease, error) {
	token := uuid.New().String()
	redisKey := l.prefix + key

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, lease).Result()
		if err == nil && ok {
			return &redisLease{locker: l, key: redisKey, token: token}, nil
		}
		if err != nil {
			log.Printf("Redis lock acquire failed for %s: %v", redisKey, err)
		}

		select {
		case <-ctx.Done():
			return nil, ErrLockNotAcquired
		case <-time.After(acquirePollInterval):
		}
	}
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
}

func (r *redisLease) Release() {
	// Detached context: the lease must be released even when the caller's
	// context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, r.locker.client, []string{r.key}, r.token).Err(); err != nil &&
		err != redis.Nil {
		// The lease expiry reclaims the lock eventually.
		log.Printf("Redis lock release failed for %s: %v", r.key, err)
	}
}
