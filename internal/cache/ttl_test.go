package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGetEvict(t *testing.T) {
	c := New[string, int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	c.Evict("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestExpiry(t *testing.T) {
	c := New[string, string](20 * time.Millisecond)
	c.Set("k", "v")

	_, ok := c.Get("k")
	assert.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestSetRestartsLifetime(t *testing.T) {
	c := New[string, int](60 * time.Millisecond)
	c.Set("k", 1)
	for i := 0; i < 4; i++ {
		time.Sleep(25 * time.Millisecond)
		c.Set("k", i)
	}
	_, ok := c.Get("k")
	assert.True(t, ok, "refreshed entry must not expire")
}

func TestClear(t *testing.T) {
	c := New[string, int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()
	assert.Zero(t, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}
