package memory

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/datachat/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "memory.json"))
	require.NoError(t, err)
	return s
}

func TestRememberAndGet(t *testing.T) {
	s := newTestStore(t)

	rows := []store.Row{
		{"id": "u1", "name": "Alice", "email": "alice@example.com", "location": "Paris, France", "age": float64(30)},
		{"user_id": "u2", "name": "Bob"},
		{"clicks": float64(4)}, // no id, skipped
	}
	require.NoError(t, s.Remember("s1", rows))

	sess, err := s.Get("s1")
	require.NoError(t, err)
	require.Len(t, sess.Entities.UsersByID, 2)
	assert.Equal(t, "Alice", sess.Entities.UsersByID["u1"].Name)
	assert.Equal(t, "u1", sess.Entities.UsersByName["alice"])
	assert.Equal(t, "u2", sess.Entities.UsersByName["bob"])
}

func TestRememberPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	first, err := New(path)
	require.NoError(t, err)
	require.NoError(t, first.Remember("s1", []store.Row{{"id": "u1", "name": "Alice"}}))

	second, err := New(path)
	require.NoError(t, err)
	sess, err := second.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", sess.Entities.UsersByID["u1"].Name)
}

func TestRememberUpdatesExistingEntry(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Remember("s1", []store.Row{{"id": "u1", "name": "Alice"}}))
	require.NoError(t, s.Remember("s1", []store.Row{{"id": "u1", "name": "Alice", "email": "alice@example.com"}}))

	sess, err := s.Get("s1")
	require.NoError(t, err)
	require.Len(t, sess.Entities.UsersByID, 1)
	assert.Equal(t, "alice@example.com", sess.Entities.UsersByID["u1"].Email)
	assert.Len(t, sess.Entities.Order, 1)
}

func TestRememberEvictsOldestPastCap(t *testing.T) {
	s := newTestStore(t)

	rows := make([]store.Row, maxUsersPerSession+10)
	for i := range rows {
		rows[i] = store.Row{"id": fmt.Sprintf("u%d", i), "name": fmt.Sprintf("User %d", i)}
	}
	require.NoError(t, s.Remember("s1", rows))

	sess, err := s.Get("s1")
	require.NoError(t, err)
	assert.Len(t, sess.Entities.UsersByID, maxUsersPerSession)
	// The oldest entries are gone, the newest remain.
	assert.NotContains(t, sess.Entities.UsersByID, "u0")
	assert.NotContains(t, sess.Entities.UsersByID, "u9")
	assert.Contains(t, sess.Entities.UsersByID, "u10")
	assert.Contains(t, sess.Entities.UsersByID, fmt.Sprintf("u%d", maxUsersPerSession+9))
	assert.NotContains(t, sess.Entities.UsersByName, "user 0")
}

func TestSessionsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Remember("a", []store.Row{{"id": "u1", "name": "Alice"}}))
	require.NoError(t, s.Remember("b", []store.Row{{"id": "u2", "name": "Bob"}}))

	sessA, err := s.Get("a")
	require.NoError(t, err)
	assert.NotContains(t, sessA.Entities.UsersByID, "u2")

	sessB, err := s.Get("b")
	require.NoError(t, err)
	assert.NotContains(t, sessB.Entities.UsersByID, "u1")
}

func TestGetUnknownSessionIsEmpty(t *testing.T) {
	s := newTestStore(t)
	sess, err := s.Get("nope")
	require.NoError(t, err)
	assert.Empty(t, sess.Entities.UsersByID)
	assert.Empty(t, sess.Facts)
}

func TestAddFact(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddFact("s1", "prefers weekly summaries"))

	sess, err := s.Get("s1")
	require.NoError(t, err)
	require.Len(t, sess.Facts, 1)
	assert.Equal(t, "prefers weekly summaries", sess.Facts[0].Fact)
	assert.NotEmpty(t, sess.Facts[0].TS)

	assert.Error(t, s.AddFact("s1", "   "))
}

func TestFactsCapKeepsNewest(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < maxFactsPerSession+5; i++ {
		require.NoError(t, s.AddFact("s1", fmt.Sprintf("fact %d", i)))
	}
	sess, err := s.Get("s1")
	require.NoError(t, err)
	require.Len(t, sess.Facts, maxFactsPerSession)
	assert.Equal(t, "fact 5", sess.Facts[0].Fact)
	assert.Equal(t, fmt.Sprintf("fact %d", maxFactsPerSession+4), sess.Facts[len(sess.Facts)-1].Fact)
}

func TestCompactEnforcesCaps(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Remember("s1", []store.Row{{"id": "u1", "name": "Alice"}}))
	require.NoError(t, s.Compact())

	sess, err := s.Get("s1")
	require.NoError(t, err)
	assert.Len(t, sess.Entities.UsersByID, 1)
}
