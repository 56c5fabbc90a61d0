package proposal

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weallnet/weall/identity"
	"github.com/weallnet/weall/voting"
)

type fakeRunner struct {
	err  error
	runs int
}

func (r *fakeRunner) Run(int64, Binding) error {
	r.runs++
	return r.err
}

type fixture struct {
	engine   *Engine
	runner   *fakeRunner
	now      time.Time
	deadline time.Time
}

// newFixture registers identities with reputations 9, 4 and 16, so the
// default quadratic strategy gives alice weight 3, bob 2 and carol 4.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		runner: &fakeRunner{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.deadline = f.now.Add(72 * time.Hour)

	ledger := identity.NewLedger(func() time.Time { return f.now })
	for id, rep := range map[string]int64{"alice": 8, "bob": 3, "carol": 15} {
		_, err := ledger.Register(id, 3)
		require.NoError(t, err)
		_, err = ledger.AdjustReputation(id, rep)
		require.NoError(t, err)
	}
	votes := voting.NewEngine(ledger, nil)
	f.engine = NewEngine(votes, f.runner, nil, func() time.Time { return f.now })
	return f
}

func (f *fixture) propose(t *testing.T, quorum float64, binding Binding) int64 {
	t.Helper()
	prop, err := f.engine.Propose("alice", "pave the plaza", "default", binding, quorum, f.deadline)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, prop.Status)
	return prop.ID
}

func TestProposeValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Propose("alice", "x", "default", Binding{Kind: BindingNone}, 0, f.deadline)
	assert.ErrorIs(t, err, ErrInvalidQuorum)

	_, err = f.engine.Propose("nobody", "x", "default", Binding{Kind: BindingNone}, 5, f.deadline)
	assert.ErrorIs(t, err, identity.ErrUnknownIdentity)
}

func TestProposalIDsAreMonotonic(t *testing.T) {
	f := newFixture(t)
	first := f.propose(t, 5, Binding{Kind: BindingNone})
	second := f.propose(t, 5, Binding{Kind: BindingNone})
	assert.Equal(t, first+1, second)
}

func TestVotePassesOnQuorum(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 5, Binding{Kind: BindingNone})

	res, err := f.engine.Vote(id, "alice", voting.ChoiceYes)
	require.NoError(t, err)
	assert.Equal(t, 3.0, res.Weight)
	assert.Equal(t, StatusOpen, res.Status, "quorum not yet met")

	// Bob's vote crosses the threshold and settles in the same call.
	res, err = f.engine.Vote(id, "bob", voting.ChoiceYes)
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, res.Status)

	_, err = f.engine.Vote(id, "carol", voting.ChoiceYes)
	assert.ErrorIs(t, err, ErrVotingClosed)
}

func TestMajorityNoRejects(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 6, Binding{Kind: BindingNone})

	_, err := f.engine.Vote(id, "alice", voting.ChoiceYes) // 3 yes
	require.NoError(t, err)
	res, err := f.engine.Vote(id, "carol", voting.ChoiceNo) // 4 no
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
}

func TestTieAtQuorumRejects(t *testing.T) {
	f := newFixture(t)
	// Both voters get reputation 9 so the quadratic weights tie at 3.
	ledger := identity.NewLedger(nil)
	for _, id := range []string{"alice", "bob"} {
		_, err := ledger.Register(id, 3)
		require.NoError(t, err)
		_, err = ledger.AdjustReputation(id, 8)
		require.NoError(t, err)
	}
	engine := NewEngine(voting.NewEngine(ledger, nil), nil, nil, func() time.Time { return f.now })
	prop, err := engine.Propose("alice", "tie", "default", Binding{Kind: BindingNone}, 6, f.deadline)
	require.NoError(t, err)

	_, err = engine.Vote(prop.ID, "alice", voting.ChoiceYes)
	require.NoError(t, err)
	res, err := engine.Vote(prop.ID, "bob", voting.ChoiceNo)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Tally.Margin())
	assert.Equal(t, StatusRejected, res.Status, "exact tie at quorum rejects")
}

func TestRevoteReplaces(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 100, Binding{Kind: BindingNone})

	res, err := f.engine.Vote(id, "alice", voting.ChoiceYes)
	require.NoError(t, err)
	assert.False(t, res.Replaced)
	assert.Equal(t, 3.0, res.Tally.Yes)

	res, err = f.engine.Vote(id, "alice", voting.ChoiceNo)
	require.NoError(t, err)
	assert.True(t, res.Replaced)
	assert.Equal(t, 0.0, res.Tally.Yes, "overwritten ballot is gone")
	assert.Equal(t, 3.0, res.Tally.No)
	assert.Equal(t, 3.0, res.Tally.Total(), "no double counting")
}

func TestExpiry(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 10, Binding{Kind: BindingNone})

	// alice 3 + bob 2 + carol 4 = 9 < 10.
	for id2, choice := range map[string]voting.Choice{
		"alice": voting.ChoiceYes, "bob": voting.ChoiceYes, "carol": voting.ChoiceYes,
	} {
		_, err := f.engine.Vote(id, id2, choice)
		require.NoError(t, err)
	}

	f.now = f.deadline.Add(time.Minute)
	status, err := f.engine.Evaluate(id)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, status, "quorum unmet at deadline expires, direction irrelevant")

	t.Run("expiry discovered lazily on vote", func(t *testing.T) {
		f := newFixture(t)
		id := f.propose(t, 10, Binding{Kind: BindingNone})
		f.now = f.deadline
		_, err := f.engine.Vote(id, "alice", voting.ChoiceYes)
		assert.ErrorIs(t, err, ErrVotingClosed)
		prop, err := f.engine.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusExpired, prop.Status)
	})
}

func TestEvaluateIdempotent(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 5, Binding{Kind: BindingNone})
	_, err := f.engine.Vote(id, "alice", voting.ChoiceYes)
	require.NoError(t, err)
	_, err = f.engine.Vote(id, "bob", voting.ChoiceYes)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		status, err := f.engine.Evaluate(id)
		require.NoError(t, err)
		assert.Equal(t, StatusPassed, status)
	}
}

func TestExecute(t *testing.T) {
	t.Run("normal", func(t *testing.T) {
		f := newFixture(t)
		id := f.propose(t, 5, Binding{Kind: BindingFunding, PoolID: "grants", Amount: 10})
		_, err := f.engine.Vote(id, "alice", voting.ChoiceYes)
		require.NoError(t, err)
		_, err = f.engine.Vote(id, "bob", voting.ChoiceYes)
		require.NoError(t, err)

		prop, err := f.engine.Execute(id)
		require.NoError(t, err)
		assert.Equal(t, StatusExecuted, prop.Status)
		assert.Equal(t, 1, f.runner.runs)
	})

	t.Run("not passed", func(t *testing.T) {
		f := newFixture(t)
		id := f.propose(t, 5, Binding{Kind: BindingNone})
		_, err := f.engine.Execute(id)
		assert.ErrorIs(t, err, ErrNotPassed)
		assert.Zero(t, f.runner.runs)
	})

	t.Run("failed action leaves passed, retryable", func(t *testing.T) {
		f := newFixture(t)
		id := f.propose(t, 5, Binding{Kind: BindingFunding, PoolID: "grants", Amount: 10})
		_, err := f.engine.Vote(id, "alice", voting.ChoiceYes)
		require.NoError(t, err)
		_, err = f.engine.Vote(id, "bob", voting.ChoiceYes)
		require.NoError(t, err)

		f.runner.err = errors.New("pool is dry")
		_, err = f.engine.Execute(id)
		require.Error(t, err)
		prop, err := f.engine.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusPassed, prop.Status, "never executed without effect")

		f.runner.err = nil
		prop, err = f.engine.Execute(id)
		require.NoError(t, err)
		assert.Equal(t, StatusExecuted, prop.Status)
		assert.Equal(t, 2, f.runner.runs)
	})
}

func TestUnknownProposal(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Vote(42, "alice", voting.ChoiceYes)
	assert.ErrorIs(t, err, ErrUnknownProposal)
	_, err = f.engine.Evaluate(42)
	assert.ErrorIs(t, err, ErrUnknownProposal)
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	f.propose(t, 5, Binding{Kind: BindingNone})
	f.propose(t, 7, Binding{Kind: BindingNone})

	snap := f.engine.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, int64(1), snap[0].ID)
	assert.Equal(t, int64(2), snap[1].ID)
}
