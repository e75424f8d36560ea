package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionPolicy(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	buffer := 300 * time.Second

	t.Run("needs refresh only inside the buffer", func(t *testing.T) {
		s := &Session{ExpiresAt: now.Add(buffer)}
		assert.False(t, s.NeedsRefresh(now, buffer))

		s.ExpiresAt = now.Add(buffer - time.Second)
		assert.True(t, s.NeedsRefresh(now, buffer))
	})

	t.Run("expired at or after the expiry instant", func(t *testing.T) {
		s := &Session{ExpiresAt: now}
		assert.True(t, s.IsExpired(now))
		assert.False(t, s.IsExpired(now.Add(-time.Millisecond)))
		assert.Equal(t, time.Duration(0), s.ExpiresIn(now.Add(time.Hour)))
	})
}

func TestApplyTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("replaces token and expiry and bumps the counter", func(t *testing.T) {
		s := &Session{AccessToken: "old", RefreshToken: "r1", RefreshCount: 2, ExpiresAt: now}
		s.ApplyTokens(&TokenSet{AccessToken: "new", ExpiresIn: 3600}, now)

		assert.Equal(t, "new", s.AccessToken)
		assert.Equal(t, now.Add(time.Hour), s.ExpiresAt)
		assert.Equal(t, "r1", s.RefreshToken)
		assert.Equal(t, 3, s.RefreshCount)
		if assert.NotNil(t, s.RefreshedAt) {
			assert.Equal(t, now, *s.RefreshedAt)
		}
		assert.Equal(t, now, s.LastActivity)
	})

	t.Run("rotated refresh tokens are kept", func(t *testing.T) {
		s := &Session{RefreshToken: "r1"}
		s.ApplyTokens(&TokenSet{AccessToken: "a", RefreshToken: "r2", ExpiresIn: 60}, now)
		assert.Equal(t, "r2", s.RefreshToken)
	})
}

func TestClone(t *testing.T) {
	at := time.Now()
	s := &Session{ID: "a", RefreshedAt: &at}
	c := s.Clone()
	*c.RefreshedAt = at.Add(time.Hour)

	assert.Equal(t, at, *s.RefreshedAt)
}
