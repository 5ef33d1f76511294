package authz_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-grc/aegis/internal/authz"
)

// stubStore is an in-memory Store with controllable failures, latency
// and fetch counting.
type stubStore struct {
	mu         sync.Mutex
	control    *authz.UserAccessControl
	duplicates int
	profile    *authz.AccessProfile

	controlErr error
	profileErr error
	delay      time.Duration

	controlFetches atomic.Int64
	profileFetches atomic.Int64
}

func (s *stubStore) AccessControlByEmail(ctx context.Context, email string) (*authz.UserAccessControl, int, error) {
	s.controlFetches.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.controlErr != nil {
		return nil, 0, s.controlErr
	}
	if s.control == nil {
		return nil, 0, authz.ErrNotFound
	}
	count := s.duplicates
	if count == 0 {
		count = 1
	}
	return s.control, count, nil
}

func (s *stubStore) ProfileByID(ctx context.Context, id string) (*authz.AccessProfile, error) {
	s.profileFetches.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profileErr != nil {
		return nil, s.profileErr
	}
	if s.profile == nil || s.profile.ID != id {
		return nil, authz.ErrNotFound
	}
	return s.profile, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestLoaderResolvesControlAndProfile(t *testing.T) {
	store := &stubStore{control: activeControl(), profile: controlsProfile()}
	loader := authz.NewContextLoader(store, testLogger(), time.Second)

	snapshot := loader.Load(context.Background(), "Analyst@Example.com")
	require.NotNil(t, snapshot.Control)
	require.NotNil(t, snapshot.Profile)
	assert.Equal(t, "prof-1", snapshot.Profile.ID)
	assert.Equal(t, "analyst@example.com", snapshot.Email)
}

func TestLoaderMemoizesPerPrincipal(t *testing.T) {
	store := &stubStore{control: activeControl(), profile: controlsProfile()}
	loader := authz.NewContextLoader(store, testLogger(), time.Second)

	first := loader.Load(context.Background(), "analyst@example.com")
	for i := 0; i < 5; i++ {
		again := loader.Load(context.Background(), "analyst@example.com")
		assert.Same(t, first, again)
	}
	assert.Equal(t, int64(1), store.controlFetches.Load())
	assert.Equal(t, int64(1), store.profileFetches.Load())
}

func TestLoaderSingleFlight(t *testing.T) {
	store := &stubStore{
		control: activeControl(),
		profile: controlsProfile(),
		delay:   50 * time.Millisecond,
	}
	loader := authz.NewContextLoader(store, testLogger(), time.Second)

	const callers = 16
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			snapshot := loader.Load(context.Background(), "analyst@example.com")
			assert.NotNil(t, snapshot.Control)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), store.controlFetches.Load(), "concurrent callers must share one fetch")
}

func TestLoaderStoreErrorFoldsToAbsent(t *testing.T) {
	store := &stubStore{controlErr: errors.New("connection refused")}
	loader := authz.NewContextLoader(store, testLogger(), time.Second)

	snapshot := loader.Load(context.Background(), "analyst@example.com")
	assert.Nil(t, snapshot.Control)
	assert.Nil(t, snapshot.Profile)

	// Fail-closed downstream: the kernel turns the absent snapshot into
	// a denial, never an allow.
	d := authz.Decide(authz.Input{
		Email:   "analyst@example.com",
		Control: snapshot.Control,
		Profile: snapshot.Profile,
		Module:  authz.ModuleControls,
		Action:  authz.ActionView,
		Now:     now,
	})
	require.False(t, d.Allowed)
	assert.Equal(t, authz.DenyNoAccessControl, d.Reason)
}

func TestLoaderProfileErrorFoldsToAbsentProfile(t *testing.T) {
	store := &stubStore{control: activeControl(), profileErr: errors.New("timeout")}
	loader := authz.NewContextLoader(store, testLogger(), time.Second)

	snapshot := loader.Load(context.Background(), "analyst@example.com")
	require.NotNil(t, snapshot.Control)
	assert.Nil(t, snapshot.Profile)
}

func TestLoaderAbandonedCallerStillPopulatesCache(t *testing.T) {
	store := &stubStore{
		control: activeControl(),
		profile: controlsProfile(),
		delay:   40 * time.Millisecond,
	}
	loader := authz.NewContextLoader(store, testLogger(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	abandoned := loader.Load(ctx, "analyst@example.com")
	assert.Nil(t, abandoned.Control, "cancelled caller gets an absent snapshot")

	// The in-flight fetch keeps running; a later caller hits the cache.
	require.Eventually(t, func() bool {
		snapshot := loader.Load(context.Background(), "analyst@example.com")
		return snapshot.Control != nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), store.controlFetches.Load())
}

func TestLoaderInvalidate(t *testing.T) {
	store := &stubStore{control: activeControl(), profile: controlsProfile()}
	loader := authz.NewContextLoader(store, testLogger(), time.Second)

	loader.Load(context.Background(), "analyst@example.com")
	loader.Invalidate("analyst@example.com")
	loader.Load(context.Background(), "analyst@example.com")
	assert.Equal(t, int64(2), store.controlFetches.Load())

	loader.Reset()
	loader.Load(context.Background(), "analyst@example.com")
	assert.Equal(t, int64(3), store.controlFetches.Load())
}

func TestLoaderEmptyPrincipal(t *testing.T) {
	store := &stubStore{}
	loader := authz.NewContextLoader(store, testLogger(), time.Second)
	snapshot := loader.Load(context.Background(), "   ")
	assert.Nil(t, snapshot.Control)
	assert.Equal(t, int64(0), store.controlFetches.Load())
}
