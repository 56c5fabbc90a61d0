package identity

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrDuplicateIdentity = errors.New("identity already registered")
	ErrUnknownIdentity   = errors.New("unknown identity")
)

// Identity is one registered participant. PoHLevel is the externally
// attested Proof-of-Humanity tier; how it was attested is not our problem.
// Identities are never deleted, only deactivated.
type Identity struct {
	ID         string    `json:"id"`
	PoHLevel   int       `json:"poh_level"`
	Reputation int64     `json:"reputation"`
	Active     bool      `json:"active"`
	Registered time.Time `json:"registered"`
}

// Ledger owns all identity records. Reputation is only ever adjusted
// through AdjustReputation; callers are responsible for deciding who may
// do that.
type Ledger struct {
	users map[string]*Identity
	now   func() time.Time
	mu    sync.RWMutex
}

// NewLedger returns an empty ledger. A nil clock means time.Now.
func NewLedger(clock func() time.Time) *Ledger {
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{
		users: make(map[string]*Identity),
		now:   clock,
	}
}

// Register creates a new identity with the given PoH level. New identities
// start with one point of reputation.
func (l *Ledger) Register(id string, pohLevel int) (Identity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.users[id]; exists {
		return Identity{}, errors.Wrapf(ErrDuplicateIdentity, "identity %q", id)
	}
	user := &Identity{
		ID:         id,
		PoHLevel:   pohLevel,
		Reputation: 1,
		Active:     true,
		Registered: l.now(),
	}
	l.users[id] = user
	return *user, nil
}

func (l *Ledger) Get(id string) (Identity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	user, found := l.users[id]
	if !found {
		return Identity{}, errors.Wrapf(ErrUnknownIdentity, "identity %q", id)
	}
	return *user, nil
}

// AdjustReputation applies a signed delta to an identity's reputation.
// The result is clamped at zero, so slashing below zero is not an error.
func (l *Ledger) AdjustReputation(id string, delta int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	user, found := l.users[id]
	if !found {
		return 0, errors.Wrapf(ErrUnknownIdentity, "identity %q", id)
	}
	user.Reputation += delta
	if user.Reputation < 0 {
		user.Reputation = 0
	}
	return user.Reputation, nil
}

// Deactivate marks an identity as inactive. The record stays on the ledger.
func (l *Ledger) Deactivate(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	user, found := l.users[id]
	if !found {
		return errors.Wrapf(ErrUnknownIdentity, "identity %q", id)
	}
	user.Active = false
	return nil
}

// Filter returns the ids of all identities matching the predicate, sorted
// for deterministic downstream use (juror selection shuffles a sorted
// candidate list).
func (l *Ledger) Filter(pred func(Identity) bool) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []string
	for id, user := range l.users {
		if pred(*user) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of every identity, sorted by id.
func (l *Ledger) Snapshot() []Identity {
	l.mu.RLock()
	defer l.mu.RUnlock()

	users := make([]Identity, 0, len(l.users))
	for _, user := range l.users {
		users = append(users, *user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}
