package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t *testing.T) func() time.Time {
	t.Helper()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestRegister(t *testing.T) {
	t.Run("normal", func(t *testing.T) {
		l := NewLedger(fixedClock(t))
		user, err := l.Register("alice", 3)
		require.NoError(t, err)
		assert.Equal(t, "alice", user.ID)
		assert.Equal(t, 3, user.PoHLevel)
		assert.Equal(t, int64(1), user.Reputation)
		assert.True(t, user.Active)
	})

	t.Run("duplicate fails", func(t *testing.T) {
		l := NewLedger(fixedClock(t))
		_, err := l.Register("alice", 3)
		require.NoError(t, err)
		_, err = l.Register("alice", 1)
		assert.ErrorIs(t, err, ErrDuplicateIdentity)
	})

	t.Run("unknown get", func(t *testing.T) {
		l := NewLedger(fixedClock(t))
		_, err := l.Get("nobody")
		assert.ErrorIs(t, err, ErrUnknownIdentity)
	})
}

func TestAdjustReputation(t *testing.T) {
	l := NewLedger(fixedClock(t))
	_, err := l.Register("alice", 3)
	require.NoError(t, err)

	rep, err := l.AdjustReputation("alice", 8)
	require.NoError(t, err)
	assert.Equal(t, int64(9), rep)

	t.Run("clamped at zero", func(t *testing.T) {
		rep, err := l.AdjustReputation("alice", -100)
		require.NoError(t, err)
		assert.Equal(t, int64(0), rep)

		// A further slash still never goes negative.
		rep, err = l.AdjustReputation("alice", -1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), rep)
	})

	t.Run("unknown identity", func(t *testing.T) {
		_, err := l.AdjustReputation("nobody", 1)
		assert.ErrorIs(t, err, ErrUnknownIdentity)
	})
}

func TestDeactivate(t *testing.T) {
	l := NewLedger(fixedClock(t))
	_, err := l.Register("alice", 3)
	require.NoError(t, err)

	require.NoError(t, l.Deactivate("alice"))
	user, err := l.Get("alice")
	require.NoError(t, err)
	assert.False(t, user.Active)

	// Deactivated identities stay on the ledger.
	_, err = l.Register("alice", 3)
	assert.ErrorIs(t, err, ErrDuplicateIdentity)
}

func TestFilter(t *testing.T) {
	l := NewLedger(fixedClock(t))
	for _, reg := range []struct {
		id  string
		poh int
	}{{"carol", 3}, {"alice", 3}, {"bob", 1}} {
		_, err := l.Register(reg.id, reg.poh)
		require.NoError(t, err)
	}
	require.NoError(t, l.Deactivate("carol"))

	ids := l.Filter(func(u Identity) bool { return u.Active && u.PoHLevel >= 3 })
	assert.Equal(t, []string{"alice"}, ids)

	all := l.Filter(func(Identity) bool { return true })
	assert.Equal(t, []string{"alice", "bob", "carol"}, all, "sorted output")
}
