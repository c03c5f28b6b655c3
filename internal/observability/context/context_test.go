package obscontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = WithActor(ctx, "principal", "agent-7")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	actorType, actorID := ActorFromContext(ctx)
	assert.Equal(t, "principal", actorType)
	assert.Equal(t, "agent-7", actorID)
}

func TestEmptyContext(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	actorType, actorID := ActorFromContext(context.Background())
	assert.Empty(t, actorType)
	assert.Empty(t, actorID)
}
