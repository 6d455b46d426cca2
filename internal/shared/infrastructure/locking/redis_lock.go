// Package locking provides a Redis-backed mutual exclusion primitive for the
// cron jobs. Only one worker instance may run a given billing pass at a time;
// the payment ledger makes double-running safe, the lock makes it cheap.
package locking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only if it still holds this locker's token, so
// an expired lock reacquired by another instance is never released by us.
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// JobLock acquires per-job leases in Redis via SET NX with a TTL.
type JobLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewJobLock creates a job lock manager. The TTL bounds how long a crashed
// holder can block the next run.
func NewJobLock(client *redis.Client, ttl time.Duration) *JobLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &JobLock{client: client, ttl: ttl}
}

// Lease is one held lock. Release it when the job finishes.
type Lease struct {
	lock  *JobLock
	key   string
	token string
}

// Acquire tries to take the named lease. A false return means another
// instance holds it and the caller should skip this run.
func (l *JobLock) Acquire(ctx context.Context, name string) (*Lease, bool, error) {
	token := uuid.NewString()
	key := "queuecast:lock:" + name
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{lock: l, key: key, token: token}, true, nil
}

// Release frees the lease if this holder still owns it.
func (le *Lease) Release(ctx context.Context) error {
	return unlockScript.Run(ctx, le.lock.client, []string{le.key}, le.token).Err()
}
