package relay

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieDomain(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"www.example.com", ".example.com"},
		{"example.com", ".example.com"},
		{"example.com:8080", ".example.com"},
		{"shop.example.com", ".shop.example.com"},
		{"a.b.c.example.com", ""},
		{"x.y.example.com", ""},
		{"localhost", ".localhost"},
		{"192.168.1.10", ""},
		{"[::1]:8080", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, CookieDomain(tt.host))
		})
	}
}

func TestStripCookie(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"a=1; b=2", "a=1; b=2"},
		{"RELAYSESSID=abc; a=1", "a=1"},
		{"a=1; RELAYSESSID=abc; b=2", "a=1; b=2"},
		{"a=1; relaysessid=abc", "a=1"},
		{"RELAYSESSID=abc", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripCookie(tt.raw, DefaultSessionCookie), tt.raw)
	}
}

func newCookieClient(t *testing.T, host string, cookies ...*http.Cookie) (*Client, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://"+host+"/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := New("http://tracker.test", "token", req,
		WithResponse(rec),
		WithTransport(&fakeTransport{}),
		WithClock(func() time.Time { return now }),
	)
	return c, rec
}

func TestSyncCookies_SetsWithDomainAndExpiry(t *testing.T) {
	c, rec := newCookieClient(t, "www.example.com")
	c.syncCookies(&Verdict{Cookies: map[string]string{"visit": "1"}, CookiesTTL: floatPtr(2)})

	resp := rec.Result()
	defer resp.Body.Close()
	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "visit", cookies[0].Name)
	assert.Equal(t, "1", cookies[0].Value)
	assert.Equal(t, "/", cookies[0].Path)
	assert.Equal(t, "example.com", cookies[0].Domain)
	assert.Equal(t, time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC), cookies[0].Expires.UTC())
}

func TestSyncCookies_NoopWhenValuesMatch(t *testing.T) {
	c, rec := newCookieClient(t, "example.com",
		&http.Cookie{Name: "a", Value: "1"},
		&http.Cookie{Name: "b", Value: "2"},
	)
	c.syncCookies(&Verdict{Cookies: map[string]string{"a": "1", "b": "2"}, CookiesTTL: floatPtr(1)})

	assert.Empty(t, rec.Header().Values("Set-Cookie"))
}

func TestSyncCookies_SessionCookieWithoutTTL(t *testing.T) {
	c, rec := newCookieClient(t, "a.b.c.example.com")
	c.syncCookies(&Verdict{Cookies: map[string]string{"a": "1"}})

	resp := rec.Result()
	defer resp.Body.Close()
	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Domain)
	assert.True(t, cookies[0].Expires.IsZero())
}

func TestSaveCookie_SkipsRepeatAndSentHeaders(t *testing.T) {
	c, rec := newCookieClient(t, "example.com")

	assert.True(t, c.SaveCookie("a", "1", nil))
	assert.False(t, c.SaveCookie("a", "1", nil))
	assert.Len(t, rec.Header().Values("Set-Cookie"), 1)

	_, _ = c.resp.Write([]byte("x"))
	assert.False(t, c.SaveCookie("b", "2", nil))
	assert.Contains(t, c.Log(), "Cookie b not set, headers already sent")
}
