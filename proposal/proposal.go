package proposal

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/weallnet/weall/voting"
)

var (
	ErrUnknownProposal = errors.New("unknown proposal")
	ErrVotingClosed    = errors.New("voting closed")
	ErrNotPassed       = errors.New("proposal is not in the passed state")
	ErrInvalidQuorum   = errors.New("quorum threshold must be positive")
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusPassed   Status = "passed"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
	StatusExpired  Status = "expired"
)

// Terminal reports whether no further transition can leave this status.
// Passed is not terminal: it still awaits execution.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusExecuted || s == StatusExpired
}

// transitions is the full state machine. Anything not listed here is
// illegal by construction.
var transitions = map[Status][]Status{
	StatusOpen:   {StatusPassed, StatusRejected, StatusExpired},
	StatusPassed: {StatusExecuted},
}

func (s Status) canMoveTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type BindingKind string

const (
	BindingNone    BindingKind = "none"
	BindingFunding BindingKind = "funding"
)

// Binding is the action a proposal commits the community to on execution.
// Bindings are data selected from a closed set, not code.
type Binding struct {
	Kind   BindingKind `json:"kind"`
	PoolID string      `json:"pool_id,omitempty"`
	Amount int64       `json:"amount,omitempty"`
}

// Runner carries out a passed proposal's binding. The treasury-backed
// implementation lives with the rule interpreter.
type Runner interface {
	Run(proposalID int64, binding Binding) error
}

// Proposal is the exported view of one proposal. Votes holds the most
// recent ballot per identity.
type Proposal struct {
	ID          int64                    `json:"id"`
	AuthorID    string                   `json:"author_id"`
	Description string                   `json:"description"`
	Class       string                   `json:"class"`
	Status      Status                   `json:"status"`
	Quorum      float64                  `json:"quorum"`
	Binding     Binding                  `json:"binding"`
	CreatedAt   time.Time                `json:"created_at"`
	Deadline    time.Time                `json:"deadline"`
	Votes       map[string]voting.Ballot `json:"votes"`
	Tally       voting.Tally             `json:"tally"`
}

// record is the engine-owned state. Each record has its own lock so votes
// on distinct proposals never contend with each other.
type record struct {
	mu sync.Mutex

	id          int64
	authorID    string
	description string
	class       string
	status      Status
	quorum      float64
	binding     Binding
	createdAt   time.Time
	deadline    time.Time
	ballots     map[string]voting.Ballot
}

func (r *record) view() Proposal {
	votes := make(map[string]voting.Ballot, len(r.ballots))
	for id, b := range r.ballots {
		votes[id] = b
	}
	return Proposal{
		ID:          r.id,
		AuthorID:    r.authorID,
		Description: r.description,
		Class:       r.class,
		Status:      r.status,
		Quorum:      r.quorum,
		Binding:     r.binding,
		CreatedAt:   r.createdAt,
		Deadline:    r.deadline,
		Votes:       votes,
		Tally:       voting.Count(r.ballots),
	}
}

// moveTo applies a transition, rejecting anything outside the state
// machine. Caller holds the record lock.
func (r *record) moveTo(to Status) error {
	if !r.status.canMoveTo(to) {
		return errors.Wrapf(ErrVotingClosed, "proposal %d cannot move %s -> %s", r.id, r.status, to)
	}
	r.status = to
	return nil
}

// VoteResult reports what a recorded vote did to the proposal, including
// any transition the vote itself triggered.
type VoteResult struct {
	Weight   float64      `json:"weight"`
	Replaced bool         `json:"replaced"`
	Status   Status       `json:"status"`
	Tally    voting.Tally `json:"tally"`
}

// Engine owns the proposal records and their lifecycle. Proposal ids are
// assigned monotonically from 1 and records are never deleted.
type Engine struct {
	votes  *voting.Engine
	runner Runner
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	proposals map[int64]*record
	nextID    int64
}

func NewEngine(votes *voting.Engine, runner Runner, logger *slog.Logger, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		votes:     votes,
		runner:    runner,
		logger:    logger,
		now:       clock,
		proposals: make(map[int64]*record),
		nextID:    1,
	}
}

// Propose opens a new proposal.
func (e *Engine) Propose(authorID, description, class string, binding Binding, quorum float64, deadline time.Time) (Proposal, error) {
	if quorum <= 0 {
		return Proposal{}, errors.Wrapf(ErrInvalidQuorum, "quorum %v", quorum)
	}
	if _, err := e.votes.WeightOf(authorID); err != nil {
		return Proposal{}, err
	}

	e.mu.Lock()
	rec := &record{
		id:          e.nextID,
		authorID:    authorID,
		description: description,
		class:       class,
		status:      StatusOpen,
		quorum:      quorum,
		binding:     binding,
		createdAt:   e.now(),
		deadline:    deadline,
		ballots:     make(map[string]voting.Ballot),
	}
	e.proposals[rec.id] = rec
	e.nextID++
	e.mu.Unlock()

	e.logger.Info("proposal opened",
		"proposal_id", rec.id, "author", authorID, "class", class, "quorum", quorum)
	return rec.view(), nil
}

func (e *Engine) get(id int64) (*record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, found := e.proposals[id]
	if !found {
		return nil, errors.Wrapf(ErrUnknownProposal, "proposal %d", id)
	}
	return rec, nil
}

// Vote records or replaces the identity's ballot. Recording a ballot that
// pushes total weight over quorum evaluates the proposal in the same
// call; expiry is also discovered here, lazily.
func (e *Engine) Vote(id int64, identityID string, choice voting.Choice) (VoteResult, error) {
	rec, err := e.get(id)
	if err != nil {
		return VoteResult{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	at := e.now()
	e.evaluateLocked(rec, at)
	if rec.status != StatusOpen {
		return VoteResult{}, errors.Wrapf(ErrVotingClosed, "proposal %d is %s", id, rec.status)
	}

	ballot, err := e.votes.NewBallot(identityID, choice)
	if err != nil {
		return VoteResult{}, err
	}
	_, replaced := rec.ballots[identityID]
	rec.ballots[identityID] = ballot

	tally := voting.Count(rec.ballots)
	if tally.Total() >= rec.quorum {
		e.evaluateLocked(rec, at)
	}

	e.logger.Info("vote recorded",
		"proposal_id", id, "identity", identityID, "choice", choice,
		"weight", ballot.Weight, "replaced", replaced, "status", rec.status)
	return VoteResult{
		Weight:   ballot.Weight,
		Replaced: replaced,
		Status:   rec.status,
		Tally:    tally,
	}, nil
}

// Evaluate settles an open proposal against quorum, majority and
// deadline. Re-evaluating a settled proposal is a no-op.
func (e *Engine) Evaluate(id int64) (Status, error) {
	rec, err := e.get(id)
	if err != nil {
		return "", err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	e.evaluateLocked(rec, e.now())
	return rec.status, nil
}

// evaluateLocked is the single place the Open state is left. Quorum and
// majority are independent: without quorum the vote direction is
// irrelevant, and an exact tie at quorum rejects (status quo wins).
// Caller holds the record lock.
func (e *Engine) evaluateLocked(rec *record, at time.Time) {
	if rec.status != StatusOpen {
		return
	}
	tally := voting.Count(rec.ballots)
	switch {
	case tally.Total() >= rec.quorum:
		next := StatusRejected
		if tally.Margin() > 0 {
			next = StatusPassed
		}
		rec.status = next
		e.logger.Info("proposal settled",
			"proposal_id", rec.id, "status", next, "yes", tally.Yes, "no", tally.No)
	case !at.Before(rec.deadline):
		rec.status = StatusExpired
		e.logger.Info("proposal expired",
			"proposal_id", rec.id, "cast", tally.Total(), "quorum", rec.quorum)
	}
}

// Execute runs the bound action of a passed proposal and marks it
// executed. The two are atomic as a unit: if the action fails the
// proposal stays passed and Execute may be retried.
func (e *Engine) Execute(id int64) (Proposal, error) {
	rec, err := e.get(id)
	if err != nil {
		return Proposal{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.status != StatusPassed {
		return Proposal{}, errors.Wrapf(ErrNotPassed, "proposal %d is %s", id, rec.status)
	}
	if rec.binding.Kind != BindingNone && e.runner != nil {
		if err := e.runner.Run(rec.id, rec.binding); err != nil {
			e.logger.Warn("proposal execution failed",
				"proposal_id", rec.id, "error", err)
			return Proposal{}, err
		}
	}
	if err := rec.moveTo(StatusExecuted); err != nil {
		return Proposal{}, err
	}
	e.logger.Info("proposal executed", "proposal_id", rec.id)
	return rec.view(), nil
}

func (e *Engine) Get(id int64) (Proposal, error) {
	rec, err := e.get(id)
	if err != nil {
		return Proposal{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.view(), nil
}

// Snapshot returns a copy of every proposal, ordered by id.
func (e *Engine) Snapshot() []Proposal {
	e.mu.RLock()
	recs := make([]*record, 0, len(e.proposals))
	for _, rec := range e.proposals {
		recs = append(recs, rec)
	}
	e.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].id < recs[j].id })
	out := make([]Proposal, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.view())
		rec.mu.Unlock()
	}
	return out
}
