package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	c := newTTLCache[string, bool](func() time.Time { return current })

	c.Set("agent-1", true, time.Minute)
	got, ok := c.Get("agent-1")
	assert.True(t, ok)
	assert.True(t, got)

	current = current.Add(2 * time.Minute)
	_, ok = c.Get("agent-1")
	assert.False(t, ok)
}

func TestTTLCacheDelete(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("k", 1, 0)
	c.Delete("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}
