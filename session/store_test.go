package session_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/session"
)

func TestStore(t *testing.T) {
	t.Parallel()

	t.Run("stores and retrieves a payload by session id", func(t *testing.T) {
		t.Parallel()

		s := session.New(10, time.Minute)
		s.Put("sess-1", &models.ResultPayload{ProseText: "hello"})

		got, ok := s.Get("sess-1")
		require.True(t, ok)
		assert.Equal(t, "hello", got.ProseText)
	})

	t.Run("misses unknown sessions", func(t *testing.T) {
		t.Parallel()

		s := session.New(10, time.Minute)

		_, ok := s.Get("nope")
		assert.False(t, ok)
	})

	t.Run("expired entries are misses", func(t *testing.T) {
		t.Parallel()

		s := session.New(10, time.Millisecond)
		s.Put("sess-1", &models.ResultPayload{ProseText: "hello"})

		time.Sleep(5 * time.Millisecond)

		_, ok := s.Get("sess-1")
		assert.False(t, ok)
	})

	t.Run("an expired read frees its slot", func(t *testing.T) {
		t.Parallel()

		s := session.New(10, time.Millisecond)
		s.Put("sess-1", &models.ResultPayload{ProseText: "hello"})

		time.Sleep(5 * time.Millisecond)

		_, ok := s.Get("sess-1")
		require.False(t, ok)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("capacity eviction prefers expired entries over live ones", func(t *testing.T) {
		t.Parallel()

		s := session.New(2, 50*time.Millisecond)
		s.Put("old", &models.ResultPayload{ProseText: "stale"})

		time.Sleep(60 * time.Millisecond)

		s.Put("fresh", &models.ResultPayload{ProseText: "live"})
		s.Put("new", &models.ResultPayload{ProseText: "live too"})

		assert.Equal(t, 2, s.Len())
		_, ok := s.Get("fresh")
		assert.True(t, ok)
		_, ok = s.Get("new")
		assert.True(t, ok)
		_, ok = s.Get("old")
		assert.False(t, ok)
	})

	t.Run("capacity is enforced by eviction", func(t *testing.T) {
		t.Parallel()

		s := session.New(2, time.Minute)
		for i := 0; i < 5; i++ {
			s.Put(fmt.Sprintf("sess-%d", i), &models.ResultPayload{ProseText: "x"})
		}

		assert.Equal(t, 2, s.Len())
	})

	t.Run("overwriting an existing session does not evict", func(t *testing.T) {
		t.Parallel()

		s := session.New(2, time.Minute)
		s.Put("a", &models.ResultPayload{ProseText: "1"})
		s.Put("b", &models.ResultPayload{ProseText: "2"})
		s.Put("a", &models.ResultPayload{ProseText: "updated"})

		assert.Equal(t, 2, s.Len())
		got, ok := s.Get("a")
		require.True(t, ok)
		assert.Equal(t, "updated", got.ProseText)
		_, ok = s.Get("b")
		assert.True(t, ok)
	})
}
