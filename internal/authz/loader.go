package authz

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultResolveTimeout bounds each store fetch during context
// resolution. A timed-out fetch is folded to "absent", never allowed.
const DefaultResolveTimeout = 5 * time.Second

// Context is one principal's resolved access snapshot. All decisions
// taken against the same Context are mutually consistent; store updates
// are only observed at the next resolution boundary.
type Context struct {
	Email      string
	Control    *UserAccessControl
	Profile    *AccessProfile
	Duplicates int
	ResolvedAt time.Time
}

// ContextLoader resolves (UserAccessControl, AccessProfile) pairs with
// per-principal memoization. The cache scope is the loader's lifetime:
// the boundary guard builds a fresh resolution per request, while an
// interactive session keeps one loader so K checks cost one resolution.
// Concurrent callers for the same principal share a single in-flight
// fetch.
type ContextLoader struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]*Context
}

// NewContextLoader constructs a loader. A non-positive timeout falls
// back to DefaultResolveTimeout.
func NewContextLoader(store Store, logger *slog.Logger, timeout time.Duration) *ContextLoader {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextLoader{
		store:   store,
		logger:  logger,
		timeout: timeout,
		cache:   make(map[string]*Context),
	}
}

// Load resolves the access context for a principal. It never returns an
// error: store failures and timeouts are represented as absent records
// so the kernel applies its fail-closed branches. If the caller's ctx
// is cancelled while a shared fetch is in flight, Load returns an
// uncached absent snapshot; the fetch itself keeps running and
// populates the cache for subsequent callers.
func (l *ContextLoader) Load(ctx context.Context, email string) *Context {
	key := NormalizeEmail(email)
	if key == "" {
		return &Context{ResolvedAt: time.Now()}
	}

	l.mu.RLock()
	cached, ok := l.cache[key]
	l.mu.RUnlock()
	if ok {
		return cached
	}

	ch := l.group.DoChan(key, func() (interface{}, error) {
		resolved := l.resolve(key)
		l.mu.Lock()
		l.cache[key] = resolved
		l.mu.Unlock()
		return resolved, nil
	})

	select {
	case <-ctx.Done():
		return &Context{Email: key, ResolvedAt: time.Now()}
	case res := <-ch:
		return res.Val.(*Context)
	}
}

// Invalidate drops one principal's cached snapshot.
func (l *ContextLoader) Invalidate(email string) {
	l.mu.Lock()
	delete(l.cache, NormalizeEmail(email))
	l.mu.Unlock()
}

// Reset drops every cached snapshot. Callers use it at lifecycle
// boundaries instead of time-based expiry.
func (l *ContextLoader) Reset() {
	l.mu.Lock()
	l.cache = make(map[string]*Context)
	l.mu.Unlock()
}

// resolve performs the two store fetches. It runs detached from any
// single caller so an abandoned check cannot cancel the shared fetch.
// A panicking store is folded to an absent snapshot like any other
// resolution failure.
func (l *ContextLoader) resolve(email string) (resolved *Context) {
	resolved = &Context{Email: email, ResolvedAt: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("context resolution panicked, treating as absent",
				slog.String("email", email), slog.Any("panic", r))
			resolved = &Context{Email: email, ResolvedAt: time.Now()}
		}
	}()

	fetchCtx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	control, count, err := l.store.AccessControlByEmail(fetchCtx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			l.logger.Warn("access control fetch failed, treating as absent",
				slog.String("email", email), slog.Any("error", err))
		}
		return resolved
	}
	resolved.Control = control
	resolved.Duplicates = count
	if count > 1 {
		l.logger.Warn("multiple access controls for principal, using most recently updated",
			slog.String("email", email), slog.Int("count", count),
			slog.String("access_control_id", control.ID))
	}

	if control.ProfileID == "" {
		return resolved
	}

	profileCtx, cancelProfile := context.WithTimeout(context.Background(), l.timeout)
	defer cancelProfile()

	profile, err := l.store.ProfileByID(profileCtx, control.ProfileID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			l.logger.Warn("access profile fetch failed, treating as absent",
				slog.String("email", email), slog.String("profile_id", control.ProfileID),
				slog.Any("error", err))
		}
		return resolved
	}
	if unknown := profile.UnknownModules(); len(unknown) > 0 {
		l.logger.Warn("access profile references unknown modules",
			slog.String("profile_id", profile.ID), slog.Any("modules", unknown))
	}
	resolved.Profile = profile
	return resolved
}
