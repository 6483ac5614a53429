package relay

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

const regexMatchTimeout = 100 * time.Millisecond

// CookieDomain returns the domain attribute for cookies set on host: the
// parent domain with a leading dot for names with fewer than three dots, and
// "" for deeper names and IP literals.
func CookieDomain(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "" || net.ParseIP(host) != nil {
		return ""
	}
	if strings.Count(host, ".") >= 3 {
		return ""
	}
	return "." + strings.TrimPrefix(host, "www.")
}

// StripCookie removes name from a raw Cookie header value.
func StripCookie(raw, name string) string {
	if raw == "" || name == "" {
		return raw
	}
	re, err := regexp2.Compile(`(?:^|;)\s*`+regexp2.Escape(name)+`=[^;]*`, regexp2.IgnoreCase)
	if err != nil {
		return raw
	}
	re.MatchTimeout = regexMatchTimeout
	out, err := re.Replace(raw, "", -1, -1)
	if err != nil {
		return raw
	}
	return strings.TrimLeft(out, "; ")
}

// syncCookies writes the verdict cookies into the host response. Cookies whose
// value the visitor already holds are skipped.
func (c *Client) syncCookies(v *Verdict) {
	if v == nil || len(v.Cookies) == 0 {
		return
	}
	if c.resp == nil {
		c.log.Warn("Cookies not set, no response attached")
		return
	}
	for _, name := range v.CookieNames() {
		c.SaveCookie(name, v.Cookies[name], v.CookiesTTL)
	}
}

// SaveCookie sets a cookie on the host response unless the visitor already
// holds the same value. A nil or non-positive ttl sets a session cookie.
func (c *Client) SaveCookie(name, value string, ttlHours *float64) bool {
	if c.resp == nil {
		return false
	}
	if cur, ok := c.cookieValue(name); ok && cur == value {
		return false
	}
	if c.resp.HeadersSent() {
		c.log.Warnf("Cookie %s not set, headers already sent", name)
		return false
	}
	cookie := &http.Cookie{
		Name:   name,
		Value:  value,
		Path:   "/",
		Domain: CookieDomain(c.req.Host),
	}
	if ttlHours != nil && *ttlHours > 0 {
		cookie.Expires = c.now().Add(time.Duration(*ttlHours * float64(time.Hour)))
	}
	if err := cookie.Valid(); err != nil {
		c.log.Warnf("Cookie %s not set: %v", name, err)
		return false
	}
	http.SetCookie(c.resp, cookie)
	c.cookies[name] = value
	return true
}

func (c *Client) cookieValue(name string) (string, bool) {
	if v, ok := c.cookies[name]; ok {
		return v, true
	}
	ck, err := c.req.Cookie(name)
	if err != nil {
		return "", false
	}
	return ck.Value, true
}
