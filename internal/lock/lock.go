package redlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by Lock when another holder owns the key.
var ErrLockHeld = errors.New("lock is already held")

// ErrNotHolder is returned by Unlock when the key expired or was taken over.
var ErrNotHolder = errors.New("lock not held")

const releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

const payoutKeyPrefix = "payd:payout-lock:"

// Locker is a single-holder lease on one redis key. Only the holder token
// may release it.
type Locker struct {
	client redis.UniversalClient
	key    string
	token  string
}

func NewLocker(client redis.UniversalClient, key, token string) *Locker {
	return &Locker{client: client, key: key, token: token}
}

// PayoutKey is the lock key serializing payout creation for a recipient.
func PayoutKey(recipientID string) string {
	return payoutKeyPrefix + recipientID
}

// NewPayoutLocker returns a locker for recipientID with a fresh holder token.
func NewPayoutLocker(client redis.UniversalClient, recipientID string) *Locker {
	return NewLocker(client, PayoutKey(recipientID), uuid.NewString())
}

func (l *Locker) Key() string {
	return l.key
}

// Lock takes the key for ttl. It does not wait.
func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", l.key, ErrLockHeld)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	released, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if released == 0 {
		return fmt.Errorf("%s: %w", l.key, ErrNotHolder)
	}
	return nil
}
