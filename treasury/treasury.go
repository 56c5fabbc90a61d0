package treasury

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/weallnet/weall/identity"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Deposit is an immutable credit into a pool, attributed to an identity.
type Deposit struct {
	IdentityID string    `json:"identity_id"`
	PoolID     string    `json:"pool_id"`
	Amount     int64     `json:"amount"`
	At         time.Time `json:"at"`
}

// Disbursement is an immutable debit from a pool. Only the proposal engine
// issues these, via an executed funding proposal.
type Disbursement struct {
	PoolID string    `json:"pool_id"`
	Amount int64     `json:"amount"`
	Memo   string    `json:"memo"`
	At     time.Time `json:"at"`
}

// Treasury holds the append-only deposit and disbursement records. Pool
// balances are derivative: the cached balance is always the sum of
// deposits minus disbursements for that pool, and never goes negative.
type Treasury struct {
	ledger        *identity.Ledger
	deposits      []Deposit
	disbursements []Disbursement
	balances      map[string]int64
	now           func() time.Time
	mu            sync.RWMutex
}

func New(ledger *identity.Ledger, clock func() time.Time) *Treasury {
	if clock == nil {
		clock = time.Now
	}
	return &Treasury{
		ledger:   ledger,
		balances: make(map[string]int64),
		now:      clock,
	}
}

// DepositFunds credits a pool and returns its new balance. The identity
// must be registered; a non-positive amount fails before any mutation.
func (t *Treasury) DepositFunds(identityID, poolID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, errors.Wrapf(ErrInvalidAmount, "deposit of %d to pool %q", amount, poolID)
	}
	if _, err := t.ledger.Get(identityID); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.deposits = append(t.deposits, Deposit{
		IdentityID: identityID,
		PoolID:     poolID,
		Amount:     amount,
		At:         t.now(),
	})
	t.balances[poolID] += amount
	return t.balances[poolID], nil
}

// Disburse debits a pool and returns its new balance. Fails without
// mutation when the pool cannot cover the amount.
func (t *Treasury) Disburse(poolID string, amount int64, memo string) (int64, error) {
	if amount <= 0 {
		return 0, errors.Wrapf(ErrInvalidAmount, "disbursement of %d from pool %q", amount, poolID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[poolID] < amount {
		return 0, errors.Wrapf(ErrInsufficientFunds,
			"pool %q holds %d, disbursement wants %d", poolID, t.balances[poolID], amount)
	}
	t.disbursements = append(t.disbursements, Disbursement{
		PoolID: poolID,
		Amount: amount,
		Memo:   memo,
		At:     t.now(),
	})
	t.balances[poolID] -= amount
	return t.balances[poolID], nil
}

func (t *Treasury) Balance(poolID string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[poolID]
}

// Pools returns the ids of all pools that have ever received a deposit,
// sorted.
func (t *Treasury) Pools() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var ids []string
	for id := range t.balances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Balances returns a copy of every pool balance.
func (t *Treasury) Balances() map[string]int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]int64, len(t.balances))
	for id, bal := range t.balances {
		out[id] = bal
	}
	return out
}
