package ratelimit

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const now = int64(1_760_000_000)

func setupSQLLimiter(t *testing.T) (*gorm.DB, *SQLLimiter) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Tracker{}))
	return db, NewSQLLimiter(db)
}

func TestSQLLimiter_DeniesAtLimit(t *testing.T) {
	db, limiter := setupSQLLimiter(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		decision, err := limiter.CheckAndConsume(ctx, db, "alice", ActionRating, 50, now+int64(i))
		require.NoError(t, err)
		require.True(t, decision.Allowed, "attempt %d", i+1)
		assert.Equal(t, int64(i+1), decision.Count)
	}

	denied, err := limiter.CheckAndConsume(ctx, db, "alice", ActionRating, 50, now+30)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, int64(10), denied.Count)
	assert.Equal(t, int64(0), denied.Remaining)
	assert.Equal(t, now+WindowSeconds, denied.ResetAt)

	status, err := limiter.Status(ctx, "alice", ActionRating, 50, now+30)
	require.NoError(t, err)
	assert.Equal(t, int64(10), status.Count)
	assert.False(t, status.Allowed)
}

func TestSQLLimiter_KarmaRaisesLimit(t *testing.T) {
	db, limiter := setupSQLLimiter(t)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 30; i++ {
		decision, err := limiter.CheckAndConsume(ctx, db, "whale", ActionRating, 1500, now)
		require.NoError(t, err)
		if decision.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 20, allowed)
}

func TestSQLLimiter_WindowResets(t *testing.T) {
	db, limiter := setupSQLLimiter(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := limiter.CheckAndConsume(ctx, db, "bob", ActionRating, 0, now)
		require.NoError(t, err)
	}

	decision, err := limiter.CheckAndConsume(ctx, db, "bob", ActionRating, 0, now+WindowSeconds)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	decision, err = limiter.CheckAndConsume(ctx, db, "bob", ActionRating, 0, now+WindowSeconds+1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(1), decision.Count)
	assert.Equal(t, now+WindowSeconds+1, decision.WindowStart)
}

func TestSQLLimiter_ActionsAreIndependent(t *testing.T) {
	db, limiter := setupSQLLimiter(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := limiter.CheckAndConsume(ctx, db, "carol", ActionRating, 0, now)
		require.NoError(t, err)
	}
	decision, err := limiter.CheckAndConsume(ctx, db, "carol", ActionInteraction, 0, now+5)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	activity, err := limiter.Activity(ctx, db, "carol", now+10)
	require.NoError(t, err)
	assert.Equal(t, Activity{Count: 11, WindowStart: now}, activity)
}

func TestSQLLimiter_ActivityIgnoresExpiredWindows(t *testing.T) {
	db, limiter := setupSQLLimiter(t)
	ctx := context.Background()

	for i := 0; i < 55; i++ {
		_, err := limiter.CheckAndConsume(ctx, db, "sleeper", ActionInteraction, 2000, now-86_400)
		require.NoError(t, err)
	}

	activity, err := limiter.Activity(ctx, db, "sleeper", now)
	require.NoError(t, err)
	assert.Equal(t, Activity{WindowStart: now}, activity)
}

func TestSQLLimiter_ActivePrincipalsSince(t *testing.T) {
	db, limiter := setupSQLLimiter(t)
	ctx := context.Background()

	for principal, at := range map[string]int64{"old": now - 7200, "mid": now - 1200, "new": now - 60} {
		_, err := limiter.CheckAndConsume(ctx, db, principal, ActionRating, 0, at)
		require.NoError(t, err)
	}
	_, err := limiter.CheckAndConsume(ctx, db, "mid", ActionInteraction, 0, now-1800)
	require.NoError(t, err)

	principals, err := limiter.ActivePrincipalsSince(ctx, now-WindowSeconds, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid"}, principals)

	limited, err := limiter.ActivePrincipalsSince(ctx, now-WindowSeconds, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, limited)
}

func TestSQLLimiter_RollsBackWithTransaction(t *testing.T) {
	db, limiter := setupSQLLimiter(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := limiter.CheckAndConsume(ctx, tx, "dave", ActionRating, 0, now); err != nil {
			return err
		}
		return ErrRateLimitExceeded
	})
	require.ErrorIs(t, err, ErrRateLimitExceeded)

	status, err := limiter.Status(ctx, "dave", ActionRating, 0, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Count)
	assert.True(t, status.Allowed)
}

func TestSQLLimiter_RejectsEmptyAction(t *testing.T) {
	db, limiter := setupSQLLimiter(t)

	_, err := limiter.CheckAndConsume(context.Background(), db, "erin", "", 0, now)
	assert.ErrorIs(t, err, ErrInvalidAction)
}
