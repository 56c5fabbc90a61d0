package dispute

import (
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/weallnet/weall/identity"
)

var (
	ErrUnknownDispute      = errors.New("unknown dispute")
	ErrJuryAlreadySelected = errors.New("jury already selected")
	ErrNotAJuror           = errors.New("identity is not a juror on this dispute")
	ErrDisputeClosed       = errors.New("dispute is not accepting juror votes")
	ErrNoEligibleJurors    = errors.New("not enough eligible jurors")
	ErrInvalidVerdict      = errors.New("invalid verdict")
	ErrNoVerdicts          = errors.New("no juror verdicts recorded")
)

type Status string

const (
	StatusOpen         Status = "open"
	StatusJurySelected Status = "jury_selected"
	StatusResolved     Status = "resolved"
)

type Verdict string

const (
	VerdictUphold  Verdict = "uphold"
	VerdictDismiss Verdict = "dismiss"
)

type SubjectKind string

const (
	SubjectPost     SubjectKind = "post"
	SubjectComment  SubjectKind = "comment"
	SubjectProposal SubjectKind = "proposal"
)

// SubjectRef points at the thing under dispute.
type SubjectRef struct {
	Kind SubjectKind `json:"kind"`
	ID   string      `json:"id"`
}

// Dispute is the exported view of one dispute. Jurors is fixed once the
// status leaves Open; Verdicts holds the most recent verdict per juror.
type Dispute struct {
	ID         int64              `json:"id"`
	Subject    SubjectRef         `json:"subject"`
	Reason     string             `json:"reason"`
	ReporterID string             `json:"reporter_id"`
	Status     Status             `json:"status"`
	Jurors     []string           `json:"jurors,omitempty"`
	Verdicts   map[string]Verdict `json:"verdicts,omitempty"`
	Resolution Verdict            `json:"resolution,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

type record struct {
	mu sync.Mutex

	id         int64
	subject    SubjectRef
	reason     string
	reporterID string
	status     Status
	jurors     []string
	verdicts   map[string]Verdict
	resolution Verdict
	createdAt  time.Time
}

func (r *record) view() Dispute {
	jurors := append([]string(nil), r.jurors...)
	verdicts := make(map[string]Verdict, len(r.verdicts))
	for id, v := range r.verdicts {
		verdicts[id] = v
	}
	return Dispute{
		ID:         r.id,
		Subject:    r.subject,
		Reason:     r.reason,
		ReporterID: r.reporterID,
		Status:     r.status,
		Jurors:     jurors,
		Verdicts:   verdicts,
		Resolution: r.resolution,
		CreatedAt:  r.createdAt,
	}
}

func (r *record) isJuror(id string) bool {
	for _, j := range r.jurors {
		if j == id {
			return true
		}
	}
	return false
}

// Engine owns dispute records and their lifecycle. Jury selection is
// seeded so a given ledger state and dispute id always produce the same
// jury.
type Engine struct {
	ledger *identity.Ledger
	logger *slog.Logger
	now    func() time.Time
	seed   int64

	mu       sync.RWMutex
	disputes map[int64]*record
	nextID   int64
}

func NewEngine(ledger *identity.Ledger, seed int64, logger *slog.Logger, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ledger:   ledger,
		logger:   logger,
		now:      clock,
		seed:     seed,
		disputes: make(map[int64]*record),
		nextID:   1,
	}
}

// Create opens a dispute against the given subject.
func (e *Engine) Create(reporterID string, subject SubjectRef, reason string) (Dispute, error) {
	if _, err := e.ledger.Get(reporterID); err != nil {
		return Dispute{}, err
	}

	e.mu.Lock()
	rec := &record{
		id:         e.nextID,
		subject:    subject,
		reason:     reason,
		reporterID: reporterID,
		status:     StatusOpen,
		verdicts:   make(map[string]Verdict),
		createdAt:  e.now(),
	}
	e.disputes[rec.id] = rec
	e.nextID++
	e.mu.Unlock()

	e.logger.Info("dispute opened",
		"dispute_id", rec.id, "reporter", reporterID,
		"subject_kind", subject.Kind, "subject_id", subject.ID)
	return rec.view(), nil
}

func (e *Engine) get(id int64) (*record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, found := e.disputes[id]
	if !found {
		return nil, errors.Wrapf(ErrUnknownDispute, "dispute %d", id)
	}
	return rec, nil
}

// SelectJury draws poolSize jurors from the identities matching the
// eligibility predicate and fixes the set. The reporter is never
// eligible. Candidates are shuffled with a seed derived from the dispute
// id, so reselection under the same ledger state is reproducible; the
// jury cannot be reselected once fixed.
func (e *Engine) SelectJury(id int64, poolSize int, eligible func(identity.Identity) bool) ([]string, error) {
	rec, err := e.get(id)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.status != StatusOpen {
		return nil, errors.Wrapf(ErrJuryAlreadySelected, "dispute %d is %s", id, rec.status)
	}
	candidates := e.ledger.Filter(func(user identity.Identity) bool {
		if user.ID == rec.reporterID {
			return false
		}
		return eligible(user)
	})
	if len(candidates) < poolSize {
		return nil, errors.Wrapf(ErrNoEligibleJurors,
			"dispute %d needs %d jurors, %d candidates", id, poolSize, len(candidates))
	}

	// Filter returns candidates sorted, so the shuffle is fully
	// determined by the seed.
	rng := rand.New(rand.NewSource(e.seed ^ rec.id))
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	jurors := append([]string(nil), candidates[:poolSize]...)
	sort.Strings(jurors)

	rec.jurors = jurors
	rec.status = StatusJurySelected
	e.logger.Info("jury selected", "dispute_id", id, "jurors", jurors)
	return append([]string(nil), jurors...), nil
}

// JurorVote records or replaces a juror's verdict.
func (e *Engine) JurorVote(id int64, jurorID string, verdict Verdict) (bool, error) {
	if verdict != VerdictUphold && verdict != VerdictDismiss {
		return false, errors.Wrapf(ErrInvalidVerdict, "verdict %q", verdict)
	}
	rec, err := e.get(id)
	if err != nil {
		return false, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.status != StatusJurySelected {
		return false, errors.Wrapf(ErrDisputeClosed, "dispute %d is %s", id, rec.status)
	}
	if !rec.isJuror(jurorID) {
		return false, errors.Wrapf(ErrNotAJuror, "identity %q on dispute %d", jurorID, id)
	}
	_, replaced := rec.verdicts[jurorID]
	rec.verdicts[jurorID] = verdict
	e.logger.Info("juror verdict recorded",
		"dispute_id", id, "juror", jurorID, "verdict", verdict, "replaced", replaced)
	return replaced, nil
}

// Resolve settles the dispute by majority of the fixed juror set: a
// report is upheld only when more than half the jurors say so, so ties
// and absent verdicts favor the status quo. Resolving an already
// resolved dispute returns the recorded outcome without re-running
// anything; the settled bool is true only on the call that settled it.
func (e *Engine) Resolve(id int64) (Verdict, bool, error) {
	rec, err := e.get(id)
	if err != nil {
		return "", false, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch rec.status {
	case StatusResolved:
		return rec.resolution, false, nil
	case StatusOpen:
		return "", false, errors.Wrapf(ErrDisputeClosed, "dispute %d has no jury yet", id)
	}
	if len(rec.verdicts) == 0 {
		return "", false, errors.Wrapf(ErrNoVerdicts, "dispute %d", id)
	}

	uphold := 0
	for _, v := range rec.verdicts {
		if v == VerdictUphold {
			uphold++
		}
	}
	outcome := VerdictDismiss
	if uphold*2 > len(rec.jurors) {
		outcome = VerdictUphold
	}
	rec.resolution = outcome
	rec.status = StatusResolved
	e.logger.Info("dispute resolved",
		"dispute_id", id, "outcome", outcome, "uphold", uphold, "jurors", len(rec.jurors))
	return outcome, true, nil
}

func (e *Engine) Get(id int64) (Dispute, error) {
	rec, err := e.get(id)
	if err != nil {
		return Dispute{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.view(), nil
}

// Snapshot returns a copy of every dispute, ordered by id.
func (e *Engine) Snapshot() []Dispute {
	e.mu.RLock()
	recs := make([]*record, 0, len(e.disputes))
	for _, rec := range e.disputes {
		recs = append(recs, rec)
	}
	e.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].id < recs[j].id })
	out := make([]Dispute, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.view())
		rec.mu.Unlock()
	}
	return out
}
