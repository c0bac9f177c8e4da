package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "career-matcher:run:"
	defaultTTL = 2 * time.Minute
)

// ErrLocked is returned when another run holds the lock for the same assessment.
var ErrLocked = errors.New("matching run already in progress")

// Deletes the key only if it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// Locker is a per-assessment run lock backed by Redis.
type Locker struct {
	client   redis.Cmdable
	ttl      time.Duration
	newToken func() string
}

// New returns a Locker. The TTL bounds how long a crashed run can block others.
func New(client redis.Cmdable, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Locker{
		client:   client,
		ttl:      ttl,
		newToken: func() string { return uuid.New().String() },
	}
}

// NewClient builds a Redis client from connection settings.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func key(assessmentID string) string {
	return keyPrefix + assessmentID
}

// Acquire takes the lock for assessmentID. The returned func releases it.
func (l *Locker) Acquire(ctx context.Context, assessmentID string) (func(context.Context) error, error) {
	k := key(assessmentID)
	token := l.newToken()

	ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: assessment %s", ErrLocked, assessmentID)
	}

	release := func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{k}, token).Err(); err != nil {
			return fmt.Errorf("release run lock: %w", err)
		}
		return nil
	}

	return release, nil
}
