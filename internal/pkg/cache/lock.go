package cache

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const LockKeyPrefix = "lock:"

// Deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Pushes the expiry out only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Lock is a single-holder lease on a Redis key (SET NX PX). The TTL bounds how
// long a crashed holder can keep others out.
type Lock struct {
	client *redis.Client
}

func NewLock(c *redis.Client) *Lock {
	return &Lock{client: c}
}

// TryLock takes the lease without waiting. ok is false when someone else holds it.
// While held, the lease is extended every ttl/3 so a long holder keeps it; a
// crashed holder stops extending and the key expires after ttl.
func (l *Lock) TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error) {
	token := uuid.NewString()
	fullKey := LockKeyPrefix + key

	ok, err = l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil || !ok {
		return nil, ok, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(fullKey, token, ttl, stop, done)

	var once sync.Once
	release = func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's context may already be done when releasing.
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{fullKey}, token).Err(); err != nil {
				log.Errorf("[Cache] Failed to release lock %s: %v", key, err)
			}
		})
	}
	return release, true, nil
}

func (l *Lock) keepAlive(fullKey, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			held, err := extendScript.Run(ctx, l.client, []string{fullKey}, token, ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				log.Warnf("[Cache] Failed to extend lock %s: %v", fullKey, err)
				continue
			}
			if held == 0 {
				log.Warnf("[Cache] Lost lock %s", fullKey)
				return
			}
		}
	}
}
