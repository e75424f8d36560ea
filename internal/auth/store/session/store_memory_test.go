package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"stockroom/internal/auth/models"
	"stockroom/pkg/platform/sentinel"
)

type SessionStoreSuite struct {
	suite.Suite
	now   time.Time
	store *InMemorySessionStore
}

func (s *SessionStoreSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewWithClock(func() time.Time { return s.now })
}

func TestSessionStoreSuite(t *testing.T) {
	suite.Run(t, new(SessionStoreSuite))
}

func (s *SessionStoreSuite) newSession() *models.Session {
	return &models.Session{
		ID:           uuid.NewString(),
		User:         models.User{ID: "u-1", Email: "picker@example.com", Name: "Picker"},
		AccessToken:  "1000.access",
		RefreshToken: "1000.refresh",
		ExpiresAt:    s.now.Add(time.Hour),
		CreatedAt:    s.now,
		LastActivity: s.now,
	}
}

func (s *SessionStoreSuite) TestSessionLookup() {
	ctx := context.Background()

	s.Run("returns stored session when found", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Put(ctx, session.ID, session, time.Hour))

		found, err := s.store.Get(ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(session, found)
	})

	s.Run("returns ErrNotFound when session does not exist", func() {
		_, err := s.store.Get(ctx, uuid.NewString())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned copies do not alias the stored record", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Put(ctx, session.ID, session, time.Hour))

		found, err := s.store.Get(ctx, session.ID)
		s.Require().NoError(err)
		found.AccessToken = "mutated"

		again, err := s.store.Get(ctx, session.ID)
		s.Require().NoError(err)
		s.Equal("1000.access", again.AccessToken)
	})
}

func (s *SessionStoreSuite) TestTTL() {
	ctx := context.Background()

	s.Run("entries disappear after their ttl", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Put(ctx, session.ID, session, time.Minute))

		s.now = s.now.Add(time.Minute)
		_, err := s.store.Get(ctx, session.ID)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("put refreshes the ttl", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Put(ctx, session.ID, session, time.Minute))
		s.now = s.now.Add(50 * time.Second)
		s.Require().NoError(s.store.Put(ctx, session.ID, session, time.Minute))
		s.now = s.now.Add(50 * time.Second)

		_, err := s.store.Get(ctx, session.ID)
		s.Require().NoError(err)
	})

	s.Run("non-positive ttl is rejected", func() {
		session := s.newSession()
		err := s.store.Put(ctx, session.ID, session, 0)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})
}

func (s *SessionStoreSuite) TestDeleteAndList() {
	ctx := context.Background()

	first := s.newSession()
	s.Require().NoError(s.store.Put(ctx, first.ID, first, time.Hour))
	s.now = s.now.Add(time.Second)
	second := s.newSession()
	s.Require().NoError(s.store.Put(ctx, second.ID, second, time.Hour))

	all, err := s.store.ListAll(ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(first.ID, all[0].ID)

	s.Require().NoError(s.store.Delete(ctx, first.ID))
	s.Require().NoError(s.store.Delete(ctx, first.ID), "delete is idempotent")

	all, err = s.store.ListAll(ctx)
	s.Require().NoError(err)
	s.Len(all, 1)
}
