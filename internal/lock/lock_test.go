package redlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(m redismock.ClientMock)
		wantErr error
	}{
		{
			name:  "acquired",
			setup: func(m redismock.ClientMock) { m.ExpectSetNX("payd:payout-lock:mer_1", "tok", 30*time.Second).SetVal(true) },
		},
		{
			name:    "held elsewhere",
			setup:   func(m redismock.ClientMock) { m.ExpectSetNX("payd:payout-lock:mer_1", "tok", 30*time.Second).SetVal(false) },
			wantErr: ErrLockHeld,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, m := redismock.NewClientMock()
			tt.setup(m)

			err := NewLocker(db, PayoutKey("mer_1"), "tok").Lock(context.Background(), 30*time.Second)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, m.ExpectationsWereMet())
		})
	}
}

func TestLock_RedisError(t *testing.T) {
	db, m := redismock.NewClientMock()
	m.ExpectSetNX("k", "tok", time.Second).SetErr(errors.New("connection refused"))

	err := NewLocker(db, "k", "tok").Lock(context.Background(), time.Second)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLockHeld))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestUnlock(t *testing.T) {
	db, m := redismock.NewClientMock()
	m.ExpectEval(releaseScript, []string{"k"}, "tok").SetVal(int64(1))
	assert.NoError(t, NewLocker(db, "k", "tok").Unlock(context.Background()))

	m.ExpectEval(releaseScript, []string{"k"}, "tok").SetVal(int64(0))
	assert.ErrorIs(t, NewLocker(db, "k", "tok").Unlock(context.Background()), ErrNotHolder)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestPayoutLocker_OnlyHolderReleases(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	first := NewPayoutLocker(client, "mer_1")
	second := NewPayoutLocker(client, "mer_1")
	assert.Equal(t, "payd:payout-lock:mer_1", first.Key())
	assert.NotEqual(t, first.token, second.token)

	require.NoError(t, first.Lock(ctx, time.Minute))
	assert.ErrorIs(t, second.Lock(ctx, time.Minute), ErrLockHeld)
	assert.ErrorIs(t, second.Unlock(ctx), ErrNotHolder)
	assert.True(t, mr.Exists(first.Key()))

	require.NoError(t, first.Unlock(ctx))
	assert.NoError(t, second.Lock(ctx, time.Minute))
}

func TestPayoutLocker_Expires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	first := NewPayoutLocker(client, "mer_2")
	require.NoError(t, first.Lock(ctx, 5*time.Second))
	mr.FastForward(6 * time.Second)

	assert.NoError(t, NewPayoutLocker(client, "mer_2").Lock(ctx, 5*time.Second))
	assert.ErrorIs(t, first.Unlock(ctx), ErrNotHolder)
}
