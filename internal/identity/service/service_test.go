package service

import (
	"context"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/karma/internal/identity/domain"
	"github.com/smallbiznis/karma/internal/identity/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const now = int64(1_760_000_000)

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Agent{}))
	return NewService(Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide()}), db
}

func TestRegisterAndLookup(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ok, err := svc.IsRegistered(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, ok)

	agent, err := svc.Register(ctx, nil, " agent-1 ", now)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", agent.Principal)
	assert.True(t, agent.Active)

	ok, err = svc.IsRegistered(ctx, "agent-1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.Register(ctx, nil, "agent-1", now)
	assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)
}

func TestDeactivate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, nil, "agent-1", now)
	require.NoError(t, err)
	ok, err := svc.IsRegistered(ctx, "agent-1")
	require.NoError(t, err)
	require.True(t, ok)

	agent, err := svc.Deactivate(ctx, "agent-1", now+10)
	require.NoError(t, err)
	assert.False(t, agent.Active)
	require.NotNil(t, agent.DeactivatedAt)
	assert.Equal(t, now+10, *agent.DeactivatedAt)

	ok, err = svc.IsRegistered(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Deactivate(ctx, "agent-1", now+20)
	assert.ErrorIs(t, err, domain.ErrAlreadyDeactivated)

	_, err = svc.Deactivate(ctx, "ghost", now)
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
}

func TestRegister_InvalidPrincipal(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register(context.Background(), nil, "   ", now)
	assert.ErrorIs(t, err, domain.ErrInvalidPrincipal)

	_, err = svc.Register(context.Background(), nil, strings.Repeat("a", domain.MaxPrincipalLength+1), now)
	assert.ErrorIs(t, err, domain.ErrInvalidPrincipal)
}
