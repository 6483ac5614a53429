package session

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sunbk201/clickrelay/internal/relay"
)

var ErrHeadersSent = errors.New("session cookie cannot be set, headers already sent")

// Session is one visitor's key-value bag.
type Session struct {
	id     string
	mu     sync.RWMutex
	values map[string]string
}

func newSession(id string) *Session {
	return &Session{id: id, values: make(map[string]string)}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Store keeps sessions in memory. A session idle for longer than the TTL is
// evicted, as is the least recently used one once the store is full.
type Store struct {
	cache *expirable.LRU[string, *Session]
}

func NewStore(size int, idle time.Duration) *Store {
	return &Store{
		cache: expirable.NewLRU[string, *Session](size, nil, idle),
	}
}

func (s *Store) Get(id string) (*Session, bool) {
	return s.cache.Get(id)
}

// Touch re-adds the session so its idle timer restarts.
func (s *Store) Touch(sess *Session) {
	s.cache.Add(sess.id, sess)
}

func (s *Store) Remove(id string) {
	s.cache.Remove(id)
}

func (s *Store) Len() int {
	return s.cache.Len()
}

// Manager binds sessions to visitors through a cookie.
type Manager struct {
	store      *Store
	cookieName string
}

func NewManager(store *Store, cookieName string) *Manager {
	return &Manager{store: store, cookieName: cookieName}
}

func (m *Manager) CookieName() string {
	return m.cookieName
}

func (m *Manager) Store() *Store {
	return m.store
}

// Start returns the visitor's session, creating it and setting the cookie
// when the request carries no known id.
func (m *Manager) Start(w relay.Response, r *http.Request) (*Session, error) {
	if c, err := r.Cookie(m.cookieName); err == nil && c.Value != "" {
		if sess, ok := m.store.Get(c.Value); ok {
			m.store.Touch(sess)
			return sess, nil
		}
	}

	if w == nil || w.HeadersSent() {
		return nil, ErrHeadersSent
	}

	sess := newSession(uuid.NewString())
	m.store.Touch(sess)
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    sess.id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	slog.Debug("session started", "id", sess.id, "remote", r.RemoteAddr)
	return sess, nil
}

// Starter adapts Start to the relay's lazy session hook.
func (m *Manager) Starter(w relay.Response, r *http.Request) relay.SessionStarter {
	return func() (relay.Session, error) {
		sess, err := m.Start(w, r)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}
