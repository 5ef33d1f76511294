package shared_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-grc/aegis/internal/shared"
	_ "github.com/aegis-grc/aegis/testing"
)

func newManager(t *testing.T) (*shared.SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return shared.NewSessionManager(client, "test_session", time.Hour, false), mr
}

func TestSessionRoundTrip(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := manager.Load(ctx, req)
	require.NoError(t, err)

	sess.SetPrincipal("admin@example.com")
	res := httptest.NewRecorder()
	require.NoError(t, manager.Commit(ctx, res, sess))

	cookies := res.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sess.ID, cookies[0].Value)

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(cookies[0])
	reloaded, err := manager.Load(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", reloaded.Principal())
}

func TestSessionRotateDropsOldEntry(t *testing.T) {
	manager, mr := newManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := manager.Load(ctx, req)
	require.NoError(t, err)
	require.NoError(t, manager.Commit(ctx, httptest.NewRecorder(), sess))
	oldID := sess.ID

	cookie := &http.Cookie{Name: "test_session", Value: oldID}
	authReq := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	authReq.AddCookie(cookie)
	loaded, err := manager.Load(ctx, authReq)
	require.NoError(t, err)

	loaded.Rotate()
	loaded.SetPrincipal("admin@example.com")
	require.NotEqual(t, oldID, loaded.ID)
	require.NoError(t, manager.Commit(ctx, httptest.NewRecorder(), loaded))

	assert.False(t, mr.Exists("session:"+oldID))
	assert.True(t, mr.Exists("session:"+loaded.ID))
}

func TestSessionDestroyExpiresCookie(t *testing.T) {
	manager, mr := newManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := manager.Load(ctx, req)
	require.NoError(t, err)
	require.NoError(t, manager.Commit(ctx, httptest.NewRecorder(), sess))
	require.True(t, mr.Exists("session:"+sess.ID))

	manager.Destroy(sess)
	res := httptest.NewRecorder()
	require.NoError(t, manager.Commit(ctx, res, sess))

	assert.False(t, mr.Exists("session:"+sess.ID))
	cookies := res.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}
