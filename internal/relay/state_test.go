package relay

import (
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSession struct {
	values map[string]string
	writes int
}

func newMemSession() *memSession {
	return &memSession{values: map[string]string{}}
}

func (m *memSession) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *memSession) Set(key, value string) {
	m.writes++
	m.values[key] = value
}

func (m *memSession) Delete(key string) {
	delete(m.values, key)
}

func (m *memSession) starter() SessionStarter {
	return func() (Session, error) { return m, nil }
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(sess *memSession) *StateStore {
	return newStateStore(sess.starter(), func() time.Time { return testNow }, newEventLog())
}

func TestStateStore_PersistAndRestore(t *testing.T) {
	sess := newMemSession()
	s := newTestStore(sess)

	v := &Verdict{
		Info:    Info{SubID: "sub", Token: "tok"},
		Headers: []string{"Location: /x"},
		Body:    "b",
	}
	s.Persist(v, floatPtr(2))

	assert.Equal(t, "sub", sess.values[SessionSubIDKey])
	assert.Equal(t, "tok", sess.values[SessionLandingTokenKey])
	assert.Equal(t, strconv.FormatInt(testNow.Add(2*time.Hour).Unix(), 10), sess.values[SessionStateExpiresKey])

	got, ok := newTestStore(sess).Restore()
	require.True(t, ok)
	assert.Equal(t, "sub", got.Info.SubID)
	assert.Equal(t, "b", got.Body)
	assert.Nil(t, got.Headers)
}

func TestStateStore_RestoreExpired(t *testing.T) {
	for _, expires := range []time.Time{testNow, testNow.Add(-time.Second)} {
		sess := newMemSession()
		sess.values[SessionStateKey] = `{"info":{"sub_id":"old"}}`
		sess.values[SessionStateExpiresKey] = strconv.FormatInt(expires.Unix(), 10)
		s := newTestStore(sess)

		got, ok := s.Restore()
		assert.False(t, ok)
		assert.Nil(t, got)
		assert.NotContains(t, sess.values, SessionStateKey)
		assert.NotContains(t, sess.values, SessionStateExpiresKey)
		assert.Contains(t, s.log.entries(), "State expired")
	}
}

func TestStateStore_RestoreUnreadable(t *testing.T) {
	sess := newMemSession()
	sess.values[SessionStateKey] = "garbage"

	_, ok := newTestStore(sess).Restore()
	assert.False(t, ok)
	assert.NotContains(t, sess.values, SessionStateKey)
}

func TestStateStore_PersistTTL(t *testing.T) {
	sess := newMemSession()
	s := newTestStore(sess)

	s.Persist(&Verdict{Info: Info{SubID: "a"}}, floatPtr(0))
	assert.Zero(t, sess.writes)

	s.Persist(&Verdict{Info: Info{SubID: "a"}}, nil)
	assert.Contains(t, sess.values, SessionStateKey)
	assert.NotContains(t, sess.values, SessionStateExpiresKey)

	_, ok := s.Restore()
	assert.True(t, ok)
}

func TestStateStore_Override(t *testing.T) {
	sess := newMemSession()
	s := newTestStore(sess)

	_, ok := s.Override(url.Values{"other": {"1"}})
	assert.False(t, ok)

	v, ok := s.Override(url.Values{QuerySubID: {"abc"}})
	require.True(t, ok)
	assert.Equal(t, "abc", v.Info.SubID)
	assert.Empty(t, v.Info.Token)
	assert.Equal(t, strconv.FormatInt(testNow.Add(time.Hour).Unix(), 10), sess.values[SessionStateExpiresKey])
	assert.NotContains(t, sess.values, SessionLandingTokenKey)

	v, ok = s.Override(url.Values{QuerySubID: {"abc"}, QueryToken: {"t1"}})
	require.True(t, ok)
	assert.Equal(t, "t1", v.Info.Token)
	assert.Equal(t, "t1", sess.values[SessionLandingTokenKey])
}

func TestStateStore_Disabled(t *testing.T) {
	sess := newMemSession()
	sess.values[SessionStateKey] = `{"info":{"sub_id":"x"}}`
	s := newTestStore(sess)
	s.Disable()

	_, ok := s.Restore()
	assert.False(t, ok)
	s.Persist(&Verdict{Info: Info{SubID: "y"}}, nil)
	assert.Zero(t, sess.writes)
	assert.False(t, s.SetValue("k", "v"))
	assert.False(t, s.Degraded())
}

func TestStateStore_StartFailureDegrades(t *testing.T) {
	calls := 0
	s := newStateStore(func() (Session, error) {
		calls++
		return nil, errors.New("headers already sent")
	}, time.Now, newEventLog())

	_, ok := s.Restore()
	assert.False(t, ok)
	s.Persist(&Verdict{}, nil)

	assert.True(t, s.Degraded())
	assert.Equal(t, 1, calls)
	assert.Contains(t, s.log.entries(), "Session start failed: headers already sent")
}
