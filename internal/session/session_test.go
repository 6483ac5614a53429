package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbk201/clickrelay/internal/relay"
)

func newManager() *Manager {
	return NewManager(NewStore(16, time.Minute), "RELAYSESSID")
}

func TestSessionValues(t *testing.T) {
	s := newSession("abc")
	assert.Equal(t, "abc", s.ID())

	_, ok := s.Get("k")
	assert.False(t, ok)

	s.Set("k", "v")
	v, ok := s.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, 1, s.Len())

	s.Delete("k")
	assert.Zero(t, s.Len())
}

func TestStartCreatesSessionAndCookie(t *testing.T) {
	m := newManager()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	sess, err := m.Start(relay.WrapResponse(rec), req)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 1, m.Store().Len())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "RELAYSESSID", cookies[0].Name)
	assert.Equal(t, sess.ID(), cookies[0].Value)
	assert.Equal(t, "/", cookies[0].Path)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
}

func TestStartReusesKnownSession(t *testing.T) {
	m := newManager()
	first, err := m.Start(relay.WrapResponse(httptest.NewRecorder()), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	first.Set("k", "v")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "RELAYSESSID", Value: first.ID()})
	rec := httptest.NewRecorder()
	second, err := m.Start(relay.WrapResponse(rec), req)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, 1, m.Store().Len())
}

func TestStartUnknownCookieIssuesNewID(t *testing.T) {
	m := newManager()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "RELAYSESSID", Value: "stale"})

	sess, err := m.Start(relay.WrapResponse(httptest.NewRecorder()), req)
	require.NoError(t, err)
	assert.NotEqual(t, "stale", sess.ID())
}

func TestStartAfterHeadersSent(t *testing.T) {
	m := newManager()
	w := relay.WrapResponse(httptest.NewRecorder())
	w.WriteHeader(http.StatusOK)

	_, err := m.Start(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrHeadersSent)
	assert.Zero(t, m.Store().Len())

	_, err = m.Start(nil, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrHeadersSent)
}

func TestStarter(t *testing.T) {
	m := newManager()
	start := m.Starter(relay.WrapResponse(httptest.NewRecorder()), httptest.NewRequest(http.MethodGet, "/", nil))
	sess, err := start()
	require.NoError(t, err)
	sess.Set("k", "v")

	w := relay.WrapResponse(httptest.NewRecorder())
	w.WriteHeader(http.StatusOK)
	sess, err = m.Starter(w, httptest.NewRequest(http.MethodGet, "/", nil))()
	assert.Error(t, err)
	assert.Nil(t, sess)
}

func TestStoreIdleExpiry(t *testing.T) {
	store := NewStore(4, 50*time.Millisecond)
	sess := newSession("id")
	store.Touch(sess)

	_, ok := store.Get("id")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := store.Get("id")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestStoreCapacity(t *testing.T) {
	store := NewStore(2, time.Minute)
	for _, id := range []string{"a", "b", "c"} {
		store.Touch(newSession(id))
	}
	assert.Equal(t, 2, store.Len())
	_, ok := store.Get("a")
	assert.False(t, ok)

	store.Remove("b")
	assert.Equal(t, 1, store.Len())
}
