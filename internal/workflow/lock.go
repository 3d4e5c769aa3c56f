/*-------------------------------------------------------------------------
 *
 * lock.go
 *    Per-run execution locks
 *
 * The checkpoint version fence already prevents two resumes of one run
 * from both committing. Locks keep the second caller from doing any work
 * at all: LocalLocker within one process, RedisLocker across replicas.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/workflow/lock.go
 *
 *-------------------------------------------------------------------------
 */

package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/metrics"
	"github.com/redis/go-redis/v9"
)

var ErrRunLocked = errors.New("run is being executed elsewhere")

type Locker interface {
	/* Acquire takes the lock for key without waiting; release must be called exactly once */
	Acquire(ctx context.Context, key string) (release func(), err error)
}

/* LocalLocker is an in-process keyed try-lock */
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, fmt.Errorf("%w: key='%s'", ErrRunLocked, key)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

/* Deletes the key only while it still holds our token */
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

/* RedisLocker holds run locks as SET NX PX keys */
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, prefix: "grow:run-lock:"}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock error: key='%s', error=%w", redisKey, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: key='%s'", ErrRunLocked, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			/* Release on a fresh context so a cancelled run still frees its lock */
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseLockScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
				metrics.WarnWithContext(ctx, "Failed to release run lock", map[string]interface{}{
					"key":   redisKey,
					"error": err.Error(),
				})
			}
		})
	}, nil
}
