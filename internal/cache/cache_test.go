package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetAndGet(t *testing.T) {
	c := New[string](time.Hour)
	defer c.Close()

	c.Set("key1", "value1")

	val, found := c.Get("key1")
	assert.True(t, found)
	assert.Equal(t, "value1", val)
}

func TestCache_GetMissing(t *testing.T) {
	c := New[string](time.Hour)
	defer c.Close()

	val, found := c.Get("nonexistent")
	assert.False(t, found)
	assert.Empty(t, val)
}

func TestCache_Expiration(t *testing.T) {
	c := New[string](time.Minute)
	defer c.Close()

	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Set("key", "value")

	val, found := c.Get("key")
	assert.True(t, found)
	assert.Equal(t, "value", val)

	now = now.Add(2 * time.Minute)

	_, found = c.Get("key")
	assert.False(t, found)
}

func TestCache_SetWithTTL(t *testing.T) {
	c := New[int](time.Hour)
	defer c.Close()

	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.SetWithTTL("short", 1, time.Second)
	c.Set("long", 2)

	now = now.Add(5 * time.Second)

	_, found := c.Get("short")
	assert.False(t, found)
	val, found := c.Get("long")
	assert.True(t, found)
	assert.Equal(t, 2, val)
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := New[string](time.Hour)
	defer c.Close()

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Delete("key1")

	_, found := c.Get("key1")
	assert.False(t, found)

	c.Clear()
	_, found = c.Get("key2")
	assert.False(t, found)
}

func TestCache_GetOrSet(t *testing.T) {
	c := New[string](time.Hour)
	defer c.Close()

	callCount := 0
	fn := func() (string, error) {
		callCount++
		return "computed", nil
	}

	val, err := c.GetOrSet(KeyQuests, fn)
	assert.NoError(t, err)
	assert.Equal(t, "computed", val)

	val, err = c.GetOrSet(KeyQuests, fn)
	assert.NoError(t, err)
	assert.Equal(t, "computed", val)
	assert.Equal(t, 1, callCount)
}

func TestCache_GetOrSetError(t *testing.T) {
	c := New[string](time.Hour)
	defer c.Close()

	_, err := c.GetOrSet("key", func() (string, error) {
		return "", errors.New("source down")
	})
	assert.Error(t, err)

	_, found := c.Get("key")
	assert.False(t, found)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](time.Hour)
	defer c.Close()

	done := make(chan bool)

	go func() {
		for i := 0; i < 100; i++ {
			c.Set("key", i)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			c.Get("key")
		}
		done <- true
	}()

	<-done
	<-done
}
