package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orion-deck/orion-deck/internal/gateway"
	"github.com/orion-deck/orion-deck/internal/state"
)

type fakeStore struct {
	mu    sync.Mutex
	token string
	has   bool
}

func (f *fakeStore) SaveToken(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token, f.has = token, true
	return nil
}

func (f *fakeStore) LoadToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.has {
		return "", state.ErrNotFound
	}
	return f.token, nil
}

func (f *fakeStore) DeleteToken(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token, f.has = "", false
	return nil
}

func (f *fakeStore) stored() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.has
}

func validToken(t *testing.T, username, role string) string {
	return makeToken(t, map[string]any{
		"user_id":  int64(1),
		"username": username,
		"role":     role,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
}

func loginServer(t *testing.T, token string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/login", r.URL.Path)
		_, _ = w.Write([]byte(`{"token":"` + token + `"}`))
	}))
}

func TestLoginStartsSession(t *testing.T) {
	token := validToken(t, "alice", "user")
	server := loginServer(t, token)
	defer server.Close()

	store := &fakeStore{}
	mgr := NewManager(store)
	mgr.BindCaller(gateway.New(server.URL))

	require.NoError(t, mgr.Login(context.Background(), "alice", "secret"))

	assert.True(t, mgr.Active())
	current, ok := mgr.Current()
	require.True(t, ok)
	assert.Equal(t, "alice", current.Username)
	assert.Equal(t, RoleUser, current.Role)

	saved, has := store.stored()
	assert.True(t, has)
	assert.Equal(t, token, saved)
}

func TestLoginSurfacesServerMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"invalid username or password"}`))
	}))
	defer server.Close()

	mgr := NewManager(&fakeStore{})
	mgr.BindCaller(gateway.New(server.URL))

	err := mgr.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.Equal(t, "invalid username or password", gateway.UserMessage(err))
	assert.False(t, mgr.Active())
}

func TestLoginRejectsExpiredToken(t *testing.T) {
	expired := makeToken(t, map[string]any{
		"user_id":  int64(1),
		"username": "alice",
		"exp":      time.Now().Add(-time.Minute).Unix(),
	})
	server := loginServer(t, expired)
	defer server.Close()

	store := &fakeStore{}
	mgr := NewManager(store)
	mgr.BindCaller(gateway.New(server.URL))

	require.Error(t, mgr.Login(context.Background(), "alice", "secret"))
	assert.False(t, mgr.Active())
	_, has := store.stored()
	assert.False(t, has)
}

func TestRestoreValidToken(t *testing.T) {
	store := &fakeStore{}
	require.NoError(t, store.SaveToken(context.Background(), validToken(t, "carol", "admin")))

	mgr := NewManager(store)
	ok, err := mgr.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mgr.IsAdmin())
}

func TestRestoreNoToken(t *testing.T) {
	mgr := NewManager(&fakeStore{})
	ok, err := mgr.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestoreDiscardsExpiredToken(t *testing.T) {
	store := &fakeStore{}
	expired := makeToken(t, map[string]any{
		"user_id":  int64(1),
		"username": "carol",
		"exp":      time.Now().Add(-time.Hour).Unix(),
	})
	require.NoError(t, store.SaveToken(context.Background(), expired))

	mgr := NewManager(store)
	ok, err := mgr.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	// The stale token is removed, not kept for another attempt.
	_, has := store.stored()
	assert.False(t, has)
}

func TestRestoreDiscardsMalformedToken(t *testing.T) {
	store := &fakeStore{}
	require.NoError(t, store.SaveToken(context.Background(), "not-a-token"))

	mgr := NewManager(store)
	ok, err := mgr.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	_, has := store.stored()
	assert.False(t, has)
}

func TestInactivityLogout(t *testing.T) {
	store := &fakeStore{}
	require.NoError(t, store.SaveToken(context.Background(), validToken(t, "dave", "user")))

	var mu sync.Mutex
	var reason string
	var notices []string

	mgr := NewManager(store,
		WithInactivityTimeout(40*time.Millisecond),
		WithLogoutHandler(func(r string) {
			mu.Lock()
			defer mu.Unlock()
			reason = r
		}),
		WithNotifier(func(msg string) {
			mu.Lock()
			defer mu.Unlock()
			notices = append(notices, msg)
		}),
	)

	ok, err := mgr.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool { return !mgr.Active() }, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ReasonInactivity, reason)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0], "inactivity")

	_, has := store.stored()
	assert.False(t, has)
}

func TestExpiryLogout(t *testing.T) {
	store := &fakeStore{}
	exp := time.Now().Add(time.Hour).Unix()
	token := makeToken(t, map[string]any{
		"user_id":  int64(1),
		"username": "ivan",
		"role":     "user",
		"exp":      exp,
	})
	require.NoError(t, store.SaveToken(context.Background(), token))

	var mu sync.Mutex
	var reason string
	var notices []string

	// Pin the clock just short of the token's expiry so the expiry timer
	// arms with a tiny real delay.
	mgr := NewManager(store,
		WithTimeFunc(func() time.Time { return time.Unix(exp, 0).Add(-50 * time.Millisecond) }),
		WithLogoutHandler(func(r string) {
			mu.Lock()
			defer mu.Unlock()
			reason = r
		}),
		WithNotifier(func(msg string) {
			mu.Lock()
			defer mu.Unlock()
			notices = append(notices, msg)
		}),
	)

	ok, err := mgr.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool { return !mgr.Active() }, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ReasonExpired, reason)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0], "expired")

	_, has := store.stored()
	assert.False(t, has)
}

func TestHooksWiredAfterRestore(t *testing.T) {
	store := &fakeStore{}
	require.NoError(t, store.SaveToken(context.Background(), validToken(t, "judy", "user")))

	mgr := NewManager(store, WithInactivityTimeout(40*time.Millisecond))
	ok, err := mgr.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	// Hooks arrive after the timers are already armed; the teardown must
	// still reach them.
	var mu sync.Mutex
	var reason string
	var notices []string
	mgr.SetLogoutHandler(func(r string) {
		mu.Lock()
		defer mu.Unlock()
		reason = r
	})
	mgr.SetNotifier(func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		notices = append(notices, msg)
	})

	assert.Eventually(t, func() bool { return !mgr.Active() }, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ReasonInactivity, reason)
	require.Len(t, notices, 1)
}

func TestTouchDefersInactivityLogout(t *testing.T) {
	store := &fakeStore{}
	require.NoError(t, store.SaveToken(context.Background(), validToken(t, "dave", "user")))

	mgr := NewManager(store, WithInactivityTimeout(120*time.Millisecond))
	ok, err := mgr.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	// Keep touching well inside the timeout; the session must survive
	// longer than the timeout itself.
	for i := 0; i < 5; i++ {
		time.Sleep(40 * time.Millisecond)
		mgr.Touch()
		require.True(t, mgr.Active())
	}

	// Stop touching; now the timer is allowed to fire.
	assert.Eventually(t, func() bool { return !mgr.Active() }, time.Second, 10*time.Millisecond)
}

func TestLogoutIdempotent(t *testing.T) {
	calls := 0
	mgr := NewManager(&fakeStore{}, WithLogoutHandler(func(string) { calls++ }))

	mgr.Logout(context.Background(), ReasonLogout)
	mgr.Logout(context.Background(), ReasonLogout)

	// No session existed, so the teardown hook never fires.
	assert.Zero(t, calls)
}

func TestLogoutFiresHookOnce(t *testing.T) {
	store := &fakeStore{}
	require.NoError(t, store.SaveToken(context.Background(), validToken(t, "erin", "user")))

	calls := 0
	mgr := NewManager(store, WithLogoutHandler(func(string) { calls++ }))
	ok, err := mgr.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	mgr.Logout(context.Background(), ReasonLogout)
	mgr.Logout(context.Background(), ReasonLogout)
	assert.Equal(t, 1, calls)
}

func TestHandleAuthExpired(t *testing.T) {
	store := &fakeStore{}
	require.NoError(t, store.SaveToken(context.Background(), validToken(t, "frank", "user")))

	var reason string
	mgr := NewManager(store, WithLogoutHandler(func(r string) { reason = r }))
	ok, err := mgr.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	mgr.HandleAuthExpired(context.Background())

	assert.False(t, mgr.Active())
	assert.Equal(t, ReasonUnauthorized, reason)
	_, has := store.stored()
	assert.False(t, has)
}

func TestIsAdmin(t *testing.T) {
	store := &fakeStore{}
	require.NoError(t, store.SaveToken(context.Background(), validToken(t, "gina", "user")))

	mgr := NewManager(store)
	assert.False(t, mgr.IsAdmin())

	ok, err := mgr.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, mgr.IsAdmin())

	mgr.Logout(context.Background(), ReasonLogout)
	require.NoError(t, store.SaveToken(context.Background(), validToken(t, "gina", "admin")))
	ok, err = mgr.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mgr.IsAdmin())
}

func TestTokenImplementsTokenSource(t *testing.T) {
	store := &fakeStore{}
	token := validToken(t, "hank", "user")
	require.NoError(t, store.SaveToken(context.Background(), token))

	mgr := NewManager(store)

	_, ok := mgr.Token()
	assert.False(t, ok)

	restored, err := mgr.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, restored)

	got, ok := mgr.Token()
	assert.True(t, ok)
	assert.Equal(t, token, got)
}
