package relay

import (
	"net/url"
	"strconv"
	"time"
)

// Session keys and query overrides.
const (
	SessionStateKey        = "relay_state"
	SessionStateExpiresKey = "relay_state_expires"
	SessionSubIDKey        = "sub_id"
	SessionLandingTokenKey = "landing_token"
	SessionTokenKey        = "token"

	QuerySubID = "_subid"
	QueryToken = "_token"

	// DefaultStateTTL applies to verdicts seeded from query overrides, in hours.
	DefaultStateTTL = 1.0
)

// Session is the visitor's key/value store provided by the host.
type Session interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// SessionStarter opens the visitor session on first use.
type SessionStarter func() (Session, error)

// StateStore persists a Verdict in the visitor session for the length of a visit.
type StateStore struct {
	start    SessionStarter
	session  Session
	started  bool
	disabled bool
	degraded bool
	now      func() time.Time
	log      *eventLog
}

func newStateStore(start SessionStarter, now func() time.Time, log *eventLog) *StateStore {
	return &StateStore{start: start, now: now, log: log}
}

// Disable turns restore and persist into no-ops.
func (s *StateStore) Disable() {
	s.disabled = true
}

// Disabled reports whether sessions were switched off.
func (s *StateStore) Disabled() bool {
	return s.disabled
}

// Degraded reports whether the session could not be started.
func (s *StateStore) Degraded() bool {
	return s.degraded
}

func (s *StateStore) open() Session {
	if s.disabled {
		return nil
	}
	if s.started {
		return s.session
	}
	s.started = true
	if s.start == nil {
		s.degraded = true
		s.log.Warn("No session available, state will not be kept")
		return nil
	}
	sess, err := s.start()
	if err != nil || sess == nil {
		s.degraded = true
		s.log.Warnf("Session start failed: %v", err)
		return nil
	}
	s.session = sess
	return sess
}

// Restore returns the stored verdict unless it is missing, unreadable or expired.
// Expired and unreadable state is purged. Headers are stripped since they were
// already delivered on the view that stored them.
func (s *StateStore) Restore() (*Verdict, bool) {
	sess := s.open()
	if sess == nil {
		return nil, false
	}
	blob, ok := sess.Get(SessionStateKey)
	if !ok || blob == "" {
		return nil, false
	}

	if raw, ok := sess.Get(SessionStateExpiresKey); ok && raw != "" {
		expires, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || s.now().Unix() >= expires {
			s.purge(sess)
			s.log.Info("State expired")
			return nil, false
		}
	}

	v, err := DecodeVerdict([]byte(blob))
	if err != nil {
		s.purge(sess)
		s.log.Warnf("Stored state dropped: %v", err)
		return nil, false
	}
	v.Headers = nil
	s.log.Info("State restored")
	return v, true
}

// Persist stores v. A nil ttl keeps the state for the whole session; a
// non-positive ttl skips persistence.
func (s *StateStore) Persist(v *Verdict, ttlHours *float64) {
	if v == nil {
		return
	}
	if ttlHours != nil && *ttlHours <= 0 {
		s.log.Infof("State not stored, ttl %v", *ttlHours)
		return
	}
	sess := s.open()
	if sess == nil {
		return
	}

	blob, err := jsonAPI.Marshal(v)
	if err != nil {
		s.log.Warnf("State not stored: %v", err)
		return
	}
	sess.Set(SessionStateKey, string(blob))
	if ttlHours != nil {
		expires := s.now().Add(time.Duration(*ttlHours * float64(time.Hour)))
		sess.Set(SessionStateExpiresKey, strconv.FormatInt(expires.Unix(), 10))
	} else {
		sess.Delete(SessionStateExpiresKey)
	}

	// flat keys for older page scripts
	if v.Info.SubID != "" {
		sess.Set(SessionSubIDKey, v.Info.SubID)
	}
	if v.Info.Token != "" {
		sess.Set(SessionLandingTokenKey, v.Info.Token)
	}
}

// Override builds a verdict from the _subid/_token query parameters and
// stores it with DefaultStateTTL. It never touches the network.
func (s *StateStore) Override(query url.Values) (*Verdict, bool) {
	if !query.Has(QuerySubID) {
		return nil, false
	}
	v := &Verdict{Info: Info{SubID: query.Get(QuerySubID)}}
	s.log.Info("SubId loaded from query")
	if query.Has(QueryToken) {
		v.Info.Token = query.Get(QueryToken)
		s.log.Info("Landing token loaded from query")
	}
	ttl := DefaultStateTTL
	s.Persist(v, &ttl)
	return v, true
}

// SetValue writes an arbitrary session key, used for the landing token.
func (s *StateStore) SetValue(key, value string) bool {
	sess := s.open()
	if sess == nil {
		return false
	}
	sess.Set(key, value)
	return true
}

func (s *StateStore) purge(sess Session) {
	sess.Delete(SessionStateKey)
	sess.Delete(SessionStateExpiresKey)
}
