package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	ErrLockFailed = errors.New("failed to acquire distributed lock")
)

// DistributedLock is a redis SetNX lock. The value identifies the holder so
// an expired holder cannot release someone else's lock.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock attempts a single non-blocking acquisition.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock retries acquisition until it succeeds, the retries run out, or the
// context is cancelled.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock only if this instance still holds it. The check
// and delete run in one Lua script to stay atomic.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewAccountLock serializes ledger mutations for one user across instances.
// Different users proceed fully in parallel.
func NewAccountLock(client *redis.Client, userID int64, owner string) *DistributedLock {
	key := fmt.Sprintf("ledger:lock:account:%d", userID)
	return NewDistributedLock(client, key, owner, 30*time.Second)
}

// NewOpportunityLock covers a manual resolve racing the expiry sweeper. The
// database CAS is the real arbiter; the lock just avoids useless transactions.
func NewOpportunityLock(client *redis.Client, opportunityNo, owner string) *DistributedLock {
	key := fmt.Sprintf("ledger:lock:opportunity:%s", opportunityNo)
	return NewDistributedLock(client, key, owner, 30*time.Second)
}
