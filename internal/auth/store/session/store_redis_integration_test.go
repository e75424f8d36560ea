//go:build integration

package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"stockroom/internal/auth/models"
	"stockroom/internal/auth/store/session"
	"stockroom/pkg/platform/sentinel"
	"stockroom/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *session.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = session.NewRedis(s.redis.Client, session.WithKeyPrefix("test"))
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func makeSession() *models.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Session{
		ID:           uuid.NewString(),
		User:         models.User{ID: "460000000012345", Name: "Dock Lead", Email: "dock@example.com", RoleName: "Admin"},
		AccessToken:  "1000.access." + uuid.NewString(),
		RefreshToken: "1000.refresh." + uuid.NewString(),
		TokenType:    "Zoho-oauthtoken",
		ExpiresAt:    now.Add(time.Hour),
		CreatedAt:    now,
		LastActivity: now,
		Device:       "Chrome on macOS",
	}
}

func (s *RedisStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	sess := makeSession()

	s.Require().NoError(s.store.Put(ctx, sess.ID, sess, time.Hour))

	got, err := s.store.Get(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(sess.User, got.User)
	s.Equal(sess.AccessToken, got.AccessToken)
	s.True(sess.ExpiresAt.Equal(got.ExpiresAt))
}

func (s *RedisStoreSuite) TestKeyLayoutAndTTL() {
	ctx := context.Background()
	sess := makeSession()
	s.Require().NoError(s.store.Put(ctx, sess.ID, sess, 30*time.Minute))

	ttl, err := s.redis.Client.TTL(ctx, "test:zoho_session:"+sess.ID).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 29*time.Minute)
	s.LessOrEqual(ttl, 30*time.Minute)
}

func (s *RedisStoreSuite) TestMissingAndDelete() {
	ctx := context.Background()

	_, err := s.store.Get(ctx, uuid.NewString())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	sess := makeSession()
	s.Require().NoError(s.store.Put(ctx, sess.ID, sess, time.Hour))
	s.Require().NoError(s.store.Delete(ctx, sess.ID))
	s.Require().NoError(s.store.Delete(ctx, sess.ID))

	_, err = s.store.Get(ctx, sess.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestListAllOnlyReturnsPrefixedSessions() {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		sess := makeSession()
		s.Require().NoError(s.store.Put(ctx, sess.ID, sess, time.Hour))
	}
	other := session.NewRedis(s.redis.Client, session.WithKeyPrefix("staging"))
	foreign := makeSession()
	s.Require().NoError(other.Put(ctx, foreign.ID, foreign, time.Hour))
	s.Require().NoError(s.redis.Client.Set(ctx, "test:inv:unrelated", "{}", time.Hour).Err())

	all, err := s.store.ListAll(ctx)
	s.Require().NoError(err)
	s.Len(all, 5)
}
