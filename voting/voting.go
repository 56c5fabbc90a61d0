package voting

import (
	"math"

	"github.com/pkg/errors"

	"github.com/weallnet/weall/identity"
)

var ErrInvalidChoice = errors.New("invalid vote choice")

type Choice string

const (
	ChoiceYes Choice = "yes"
	ChoiceNo  Choice = "no"
)

// WeightFunc maps an identity's reputation to voting power. Strategies
// form a small closed set selected by name from the rule definitions;
// they are pure functions, never arbitrary logic.
type WeightFunc func(reputation int64) float64

// Quadratic is the default strategy: power grows as the square root of
// reputation, bounding how much a single accumulated identity can swing
// an outcome.
func Quadratic(reputation int64) float64 {
	return math.Sqrt(float64(reputation))
}

// Linear weights votes by raw reputation.
func Linear(reputation int64) float64 {
	return float64(reputation)
}

// Unit gives every identity the same weight regardless of reputation.
func Unit(int64) float64 {
	return 1
}

var strategies = map[string]WeightFunc{
	"quadratic": Quadratic,
	"linear":    Linear,
	"unit":      Unit,
}

// StrategyByName looks up a weight strategy by its rule-definition name.
func StrategyByName(name string) (WeightFunc, bool) {
	fn, found := strategies[name]
	return fn, found
}

// Ballot is one identity's current vote on a proposal: a direction plus
// the weight its reputation carried at cast time. A later ballot from the
// same identity replaces this one entirely.
type Ballot struct {
	Choice Choice  `json:"choice"`
	Weight float64 `json:"weight"`
}

// Signed returns the ballot weight with direction applied: positive for
// yes, negative for no.
func (b Ballot) Signed() float64 {
	if b.Choice == ChoiceNo {
		return -b.Weight
	}
	return b.Weight
}

// Tally is the signed sum of the current ballots, grouped by direction.
type Tally struct {
	Yes float64 `json:"yes"`
	No  float64 `json:"no"`
}

// Total is the weight cast in either direction, compared against quorum.
func (t Tally) Total() float64 {
	return t.Yes + t.No
}

// Margin is positive when yes leads. An exact zero is a tie.
func (t Tally) Margin() float64 {
	return t.Yes - t.No
}

// Count tallies the most recent ballot per identity. Overwritten ballots
// never reach here, so nothing is double counted.
func Count(ballots map[string]Ballot) Tally {
	var t Tally
	for _, b := range ballots {
		switch b.Choice {
		case ChoiceNo:
			t.No += b.Weight
		default:
			t.Yes += b.Weight
		}
	}
	return t
}

// Engine computes vote weights from ledger reputation using the
// configured strategy.
type Engine struct {
	ledger *identity.Ledger
	weigh  WeightFunc
}

func NewEngine(ledger *identity.Ledger, weigh WeightFunc) *Engine {
	if weigh == nil {
		weigh = Quadratic
	}
	return &Engine{ledger: ledger, weigh: weigh}
}

// WeightOf returns the voting power the identity holds right now.
func (e *Engine) WeightOf(identityID string) (float64, error) {
	user, err := e.ledger.Get(identityID)
	if err != nil {
		return 0, err
	}
	return e.weigh(user.Reputation), nil
}

// NewBallot builds the ballot an identity would cast for a choice, at its
// current weight.
func (e *Engine) NewBallot(identityID string, choice Choice) (Ballot, error) {
	if choice != ChoiceYes && choice != ChoiceNo {
		return Ballot{}, errors.Wrapf(ErrInvalidChoice, "choice %q", choice)
	}
	weight, err := e.WeightOf(identityID)
	if err != nil {
		return Ballot{}, err
	}
	return Ballot{Choice: choice, Weight: weight}, nil
}
