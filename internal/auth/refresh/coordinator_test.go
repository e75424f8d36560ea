package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"stockroom/internal/auth/models"
	"stockroom/internal/auth/refresh/mocks"
	sessionStore "stockroom/internal/auth/store/session"
	"stockroom/internal/platform/config"
	"stockroom/internal/platform/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type CoordinatorSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	refresher *mocks.MockTokenRefresher
	store     *sessionStore.InMemorySessionStore
	clock     *fakeClock
	coord     *Coordinator
	policy    config.SessionConfig
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.refresher = mocks.NewMockTokenRefresher(s.ctrl)
	s.clock = &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	s.store = sessionStore.NewWithClock(s.clock.Now)
	s.policy = config.SessionConfig{
		TTL:                7 * 24 * time.Hour,
		RefreshBuffer:      5 * time.Minute,
		MinRefreshInterval: 10 * time.Second,
	}
	s.coord = New(s.refresher, s.store, s.policy,
		WithClock(s.clock.Now),
		WithLogger(logger.Discard()),
		WithTimeout(time.Second),
	)
}

func (s *CoordinatorSuite) TearDownTest() {
	s.ctrl.Finish()
}

// seed stores a session whose token expires expiresIn from now.
func (s *CoordinatorSuite) seed(id string, expiresIn time.Duration) *models.Session {
	now := s.clock.Now()
	sess := &models.Session{
		ID:           id,
		User:         models.User{ID: "4600001", Email: "dock@example.com", Name: "Dock Lead"},
		AccessToken:  "1000.old",
		RefreshToken: "1000.refresh",
		TokenType:    "Bearer",
		ExpiresAt:    now.Add(expiresIn),
		CreatedAt:    now.Add(-time.Hour),
		LastActivity: now.Add(-time.Hour),
	}
	s.Require().NoError(s.store.Put(context.Background(), id, sess, s.policy.TTL))
	return sess.Clone()
}

func (s *CoordinatorSuite) TestFreshSessionOnlyTouches() {
	sess := s.seed("sess-fresh", time.Hour)
	s.refresher.EXPECT().Refresh(gomock.Any(), gomock.Any()).Times(0)

	out, err := s.coord.RefreshIfNeeded(context.Background(), "sess-fresh", sess)
	s.Require().NoError(err)
	s.False(out.Refreshed)
	s.False(out.Deferred)
	s.Equal("1000.old", out.Session.AccessToken)
	s.Equal(s.clock.Now(), out.Session.LastActivity)

	stored, err := s.store.Get(context.Background(), "sess-fresh")
	s.Require().NoError(err)
	s.Equal(s.clock.Now(), stored.LastActivity)
	s.Equal(0, stored.RefreshCount)
}

func (s *CoordinatorSuite) TestRefreshInsideBuffer() {
	sess := s.seed("sess-due", 2*time.Minute)
	s.refresher.EXPECT().
		Refresh(gomock.Any(), "1000.refresh").
		Return(&models.TokenSet{AccessToken: "1000.new", ExpiresIn: 3600, TokenType: "Bearer"}, nil).
		Times(1)

	out, err := s.coord.RefreshIfNeeded(context.Background(), "sess-due", sess)
	s.Require().NoError(err)
	s.True(out.Refreshed)
	s.Equal("1000.new", out.Session.AccessToken)
	s.Equal("1000.refresh", out.Session.RefreshToken, "unrotated refresh token is kept")
	s.Equal(1, out.Session.RefreshCount)
	s.Equal(s.clock.Now().Add(time.Hour), out.Session.ExpiresAt)
	s.Require().NotNil(out.Session.RefreshedAt)

	stored, err := s.store.Get(context.Background(), "sess-due")
	s.Require().NoError(err)
	s.Equal("1000.new", stored.AccessToken)
	s.Equal(1, stored.RefreshCount)
	s.Equal(out.Session.ExpiresAt, stored.ExpiresAt)
}

func (s *CoordinatorSuite) TestRotatedRefreshTokenReplacesOld() {
	sess := s.seed("sess-rotate", time.Minute)
	s.refresher.EXPECT().
		Refresh(gomock.Any(), "1000.refresh").
		Return(&models.TokenSet{AccessToken: "1000.new", RefreshToken: "1000.refresh2", ExpiresIn: 3600}, nil)

	out, err := s.coord.RefreshIfNeeded(context.Background(), "sess-rotate", sess)
	s.Require().NoError(err)
	s.Equal("1000.refresh2", out.Session.RefreshToken)
}

func (s *CoordinatorSuite) TestNoRefreshToken() {
	sess := s.seed("sess-online", time.Minute)
	sess.RefreshToken = ""
	s.refresher.EXPECT().Refresh(gomock.Any(), gomock.Any()).Times(0)

	_, err := s.coord.RefreshIfNeeded(context.Background(), "sess-online", sess)
	s.ErrorIs(err, ErrNoRefreshToken)

	_, err = s.coord.Refresh(context.Background(), "sess-online", sess)
	s.ErrorIs(err, ErrNoRefreshToken)
}

func (s *CoordinatorSuite) TestConcurrentCallersShareOneRefresh() {
	const callers = 8
	s.seed("sess-busy", time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	s.refresher.EXPECT().
		Refresh(gomock.Any(), "1000.refresh").
		DoAndReturn(func(ctx context.Context, _ string) (*models.TokenSet, error) {
			calls.Add(1)
			close(started)
			<-release
			return &models.TokenSet{AccessToken: "1000.shared", ExpiresIn: 3600}, nil
		}).
		Times(1)

	var wg sync.WaitGroup
	results := make([]*Outcome, callers)
	errs := make([]error, callers)
	run := func(i int) {
		defer wg.Done()
		sess, err := s.store.Get(context.Background(), "sess-busy")
		if err != nil {
			errs[i] = err
			return
		}
		results[i], errs[i] = s.coord.RefreshIfNeeded(context.Background(), "sess-busy", sess)
	}

	wg.Add(1)
	go run(0)
	<-started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go run(i)
	}
	// Let the followers reach the in-flight ticket before it resolves.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	s.Equal(int32(1), calls.Load())
	for i := range callers {
		s.Require().NoError(errs[i])
		s.True(results[i].Refreshed, "caller %d", i)
		s.Equal("1000.shared", results[i].Session.AccessToken, "caller %d", i)
		s.Equal(1, results[i].Session.RefreshCount, "caller %d", i)
	}

	stored, err := s.store.Get(context.Background(), "sess-busy")
	s.Require().NoError(err)
	s.Equal(1, stored.RefreshCount)
}

func (s *CoordinatorSuite) TestSecondCallAfterRefreshIsFresh() {
	sess := s.seed("sess-twice", time.Minute)
	s.refresher.EXPECT().
		Refresh(gomock.Any(), gomock.Any()).
		Return(&models.TokenSet{AccessToken: "1000.new", ExpiresIn: 3600}, nil).
		Times(1)

	first, err := s.coord.RefreshIfNeeded(context.Background(), "sess-twice", sess)
	s.Require().NoError(err)
	s.Require().True(first.Refreshed)

	s.clock.Advance(time.Second)
	second, err := s.coord.RefreshIfNeeded(context.Background(), "sess-twice", first.Session)
	s.Require().NoError(err)
	s.False(second.Refreshed)
	s.Equal("1000.new", second.Session.AccessToken)
	s.Equal(1, second.Session.RefreshCount)
}

func (s *CoordinatorSuite) TestIntervalGuardDefersStaleCopy() {
	stale := s.seed("sess-guard", time.Minute)
	s.refresher.EXPECT().
		Refresh(gomock.Any(), gomock.Any()).
		Return(&models.TokenSet{AccessToken: "1000.new", ExpiresIn: 3600}, nil).
		Times(1)

	_, err := s.coord.RefreshIfNeeded(context.Background(), "sess-guard", stale.Clone())
	s.Require().NoError(err)
	s.False(s.coord.CanRefreshNow("sess-guard"))

	s.clock.Advance(3 * time.Second)
	out, err := s.coord.RefreshIfNeeded(context.Background(), "sess-guard", stale)
	s.Require().NoError(err)
	s.True(out.Deferred)
	s.False(out.Refreshed)
	s.Equal("1000.old", out.Session.AccessToken)
}

func (s *CoordinatorSuite) TestGuardLiftsAfterInterval() {
	sess := s.seed("sess-again", time.Minute)
	s.refresher.EXPECT().
		Refresh(gomock.Any(), gomock.Any()).
		Return(&models.TokenSet{AccessToken: "1000.short", ExpiresIn: 60}, nil).
		Times(2)

	first, err := s.coord.RefreshIfNeeded(context.Background(), "sess-again", sess)
	s.Require().NoError(err)
	s.True(first.Refreshed)

	s.clock.Advance(s.policy.MinRefreshInterval)
	s.True(s.coord.CanRefreshNow("sess-again"))

	second, err := s.coord.RefreshIfNeeded(context.Background(), "sess-again", first.Session)
	s.Require().NoError(err)
	s.True(second.Refreshed)
	s.Equal(2, second.Session.RefreshCount)
}

func (s *CoordinatorSuite) TestFailurePropagatesAndKeepsSession() {
	sess := s.seed("sess-fail", time.Minute)
	vendorErr := errors.New("invalid_grant")
	s.refresher.EXPECT().Refresh(gomock.Any(), gomock.Any()).Return(nil, vendorErr)

	_, err := s.coord.RefreshIfNeeded(context.Background(), "sess-fail", sess)
	s.ErrorIs(err, vendorErr)

	stored, err := s.store.Get(context.Background(), "sess-fail")
	s.Require().NoError(err)
	s.Equal("1000.old", stored.AccessToken)
	s.True(s.coord.CanRefreshNow("sess-fail"), "failures do not arm the guard")
}

func (s *CoordinatorSuite) TestPersistFailureIsSwallowed() {
	writer := mocks.NewMockSessionWriter(s.ctrl)
	coord := New(s.refresher, writer, s.policy, WithClock(s.clock.Now), WithLogger(logger.Discard()))

	sess := s.seed("sess-nowrite", time.Minute)
	s.refresher.EXPECT().
		Refresh(gomock.Any(), gomock.Any()).
		Return(&models.TokenSet{AccessToken: "1000.new", ExpiresIn: 3600}, nil)
	writer.EXPECT().
		Put(gomock.Any(), "sess-nowrite", gomock.Any(), s.policy.TTL).
		Return(errors.New("connection refused"))

	out, err := coord.RefreshIfNeeded(context.Background(), "sess-nowrite", sess)
	s.Require().NoError(err)
	s.True(out.Refreshed)
	s.Equal("1000.new", out.Session.AccessToken)
}

func (s *CoordinatorSuite) TestUnpersistedRefreshIsReusedWithinInterval() {
	writer := mocks.NewMockSessionWriter(s.ctrl)
	coord := New(s.refresher, writer, s.policy, WithClock(s.clock.Now), WithLogger(logger.Discard()))

	stale := s.seed("sess-oom", -time.Second)
	s.refresher.EXPECT().
		Refresh(gomock.Any(), "1000.refresh").
		Return(&models.TokenSet{AccessToken: "1000.new", ExpiresIn: 3600}, nil).
		Times(1)
	writer.EXPECT().
		Put(gomock.Any(), "sess-oom", gomock.Any(), s.policy.TTL).
		Return(errors.New("OOM command not allowed when used memory > 'maxmemory'")).
		AnyTimes()

	for range 5 {
		out, err := coord.Refresh(context.Background(), "sess-oom", stale.Clone())
		s.Require().NoError(err)
		s.True(out.Refreshed)
		s.Equal("1000.new", out.Session.AccessToken)
		s.Equal(1, out.Session.RefreshCount)
		s.Equal(s.clock.Now().Add(time.Hour), out.Session.ExpiresAt)
	}
}

func (s *CoordinatorSuite) TestReuseEndsWithInterval() {
	sess := s.seed("sess-reuse", -time.Second)
	s.refresher.EXPECT().
		Refresh(gomock.Any(), gomock.Any()).
		Return(&models.TokenSet{AccessToken: "1000.short", ExpiresIn: 1}, nil).
		Times(2)

	_, err := s.coord.Refresh(context.Background(), "sess-reuse", sess.Clone())
	s.Require().NoError(err)

	s.clock.Advance(s.policy.MinRefreshInterval)
	out, err := s.coord.Refresh(context.Background(), "sess-reuse", sess.Clone())
	s.Require().NoError(err)
	s.Equal("1000.short", out.Session.AccessToken)
}

func (s *CoordinatorSuite) TestReuseLeavesCurrentCopyAlone() {
	sess := s.seed("sess-current", -time.Second)
	s.refresher.EXPECT().
		Refresh(gomock.Any(), gomock.Any()).
		Return(&models.TokenSet{AccessToken: "1000.new", ExpiresIn: 3600}, nil).
		Times(1)

	first, err := s.coord.Refresh(context.Background(), "sess-current", sess)
	s.Require().NoError(err)

	again, err := s.coord.Refresh(context.Background(), "sess-current", first.Session)
	s.Require().NoError(err)
	s.Equal(1, again.Session.RefreshCount, "tokens are not applied twice")
}

func (s *CoordinatorSuite) TestCancelledWaiterDoesNotAbortRefresh() {
	sess := s.seed("sess-cancel", time.Minute)
	release := make(chan struct{})
	done := make(chan struct{})
	s.refresher.EXPECT().
		Refresh(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string) (*models.TokenSet, error) {
			defer close(done)
			<-release
			s.NoError(ctx.Err())
			return &models.TokenSet{AccessToken: "1000.late", ExpiresIn: 3600}, nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := s.coord.RefreshIfNeeded(ctx, "sess-cancel", sess)
	s.ErrorIs(err, context.Canceled)

	close(release)
	<-done
	s.Eventually(func() bool {
		stored, err := s.store.Get(context.Background(), "sess-cancel")
		return err == nil && stored.AccessToken == "1000.late"
	}, time.Second, 10*time.Millisecond)
}

func (s *CoordinatorSuite) TestForgetClearsGuard() {
	sess := s.seed("sess-forget", time.Minute)
	s.refresher.EXPECT().
		Refresh(gomock.Any(), gomock.Any()).
		Return(&models.TokenSet{AccessToken: "1000.new", ExpiresIn: 3600}, nil)

	_, err := s.coord.RefreshIfNeeded(context.Background(), "sess-forget", sess)
	s.Require().NoError(err)
	s.False(s.coord.CanRefreshNow("sess-forget"))

	s.coord.Forget("sess-forget")
	s.True(s.coord.CanRefreshNow("sess-forget"))
}

func (s *CoordinatorSuite) TestPolicyPredicates() {
	sess := s.seed("sess-pred", 4*time.Minute)
	s.True(s.coord.NeedsRefresh(sess))
	s.False(s.coord.IsExpired(sess))

	s.clock.Advance(5 * time.Minute)
	s.True(s.coord.IsExpired(sess))
}
