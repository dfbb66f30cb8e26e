// Package lease provides short-lived exclusive claims on retry record ids so
// two schedulers running at once do not replay the same record.
package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned by Acquire when another owner holds the lease.
var ErrHeld = errors.New("lease held by another owner")

// Locker claims record ids. Release must be called with the token Acquire returned.
type Locker interface {
	Acquire(ctx context.Context, id int64, ttl time.Duration) (token string, err error)
	Release(ctx context.Context, id int64, token string) error
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by SET NX PX.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis returns a Redis locker. Keys look like "<prefix>:<id>".
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "retry:lease"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(id int64) string {
	return r.prefix + ":" + strconv.FormatInt(id, 10)
}

func (r *Redis) Acquire(ctx context.Context, id int64, ttl time.Duration) (string, error) {
	if r.client == nil {
		return "", errors.New("lease: redis client is nil")
	}
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key(id), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return "", ErrHeld
	}
	return token, nil
}

// Release drops the lease only when token still owns it.
func (r *Redis) Release(ctx context.Context, id int64, token string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key(id)}, token).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
