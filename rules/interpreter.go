package rules

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/weallnet/weall/content"
	"github.com/weallnet/weall/dispute"
	"github.com/weallnet/weall/identity"
	"github.com/weallnet/weall/journal"
	"github.com/weallnet/weall/proposal"
	"github.com/weallnet/weall/storage"
	"github.com/weallnet/weall/treasury"
	"github.com/weallnet/weall/voting"
)

// Interpreter binds a validated rule definition to the engines and is
// the single entry point the calling surface uses. Cascades declared by
// the rules (report threshold reached, quorum reached) run synchronously
// inside the triggering call.
type Interpreter struct {
	def      *Definition
	ledger   *identity.Ledger
	bank     *treasury.Treasury
	votes    *voting.Engine
	props    *proposal.Engine
	disputes *dispute.Engine
	posts    *content.Store
	events   *journal.Journal
	store    storage.Driver
	logger   *slog.Logger
	now      func() time.Time
}

// fundingRunner executes funding bindings against the treasury. A failed
// disbursement leaves the proposal passed; the proposal engine never
// marks it executed.
type fundingRunner struct {
	bank *treasury.Treasury
}

func (r fundingRunner) Run(proposalID int64, b proposal.Binding) error {
	if b.Kind != proposal.BindingFunding {
		return errors.Wrapf(ErrRuleViolation, "unsupported binding kind %q", b.Kind)
	}
	_, err := r.bank.Disburse(b.PoolID, b.Amount, "proposal "+strconv.FormatInt(proposalID, 10))
	return err
}

// New wires a full engine graph from a validated definition. The store
// may be nil to disable journal write-through and checkpoints; a nil
// clock means time.Now.
func New(def *Definition, store storage.Driver, logger *slog.Logger, clock func() time.Time) (*Interpreter, error) {
	if def == nil {
		return nil, errors.Wrap(ErrInvalidRuleDefinition, "nil definition")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	weigh, _ := voting.StrategyByName(def.Weighting)
	ledger := identity.NewLedger(clock)
	bank := treasury.New(ledger, clock)
	votes := voting.NewEngine(ledger, weigh)
	in := &Interpreter{
		def:    def,
		ledger: ledger,
		bank:   bank,
		votes:  votes,
		props:  proposal.NewEngine(votes, fundingRunner{bank: bank}, logger, clock),
		disputes: dispute.NewEngine(
			ledger, def.Jury.SelectionSeed, logger, clock),
		posts:  content.NewStore(clock),
		events: journal.New(store, logger, clock),
		store:  store,
		logger: logger,
		now:    clock,
	}
	return in, nil
}

// requirePoH checks the acting identity exists, is active and clears the
// declared PoH bar for the action. Checked before any mutation.
func (in *Interpreter) requirePoH(identityID, action string) error {
	user, err := in.ledger.Get(identityID)
	if err != nil {
		return err
	}
	if !user.Active {
		return errors.Wrapf(ErrRuleViolation, "identity %q is deactivated", identityID)
	}
	if required := in.def.RequiredPoH(action); user.PoHLevel < required {
		return errors.Wrapf(ErrRuleViolation,
			"action %q requires PoH level %d, identity %q has %d",
			action, required, identityID, user.PoHLevel)
	}
	return nil
}

// Register creates an identity. PoH levels are attested externally; we
// only refuse the obviously bogus.
func (in *Interpreter) Register(id string, pohLevel int) (identity.Identity, error) {
	if id == "" {
		return identity.Identity{}, errors.Wrap(ErrRuleViolation, "identity id is empty")
	}
	if pohLevel < 0 {
		return identity.Identity{}, errors.Wrapf(ErrRuleViolation, "negative PoH level %d", pohLevel)
	}
	user, err := in.ledger.Register(id, pohLevel)
	if err != nil {
		return identity.Identity{}, err
	}
	in.events.Record("user_register", map[string]any{"user": id, "poh_level": pohLevel})
	return user, nil
}

// Deactivate retires an identity. The record stays on the ledger and its
// past votes stand; it just cannot act anymore.
func (in *Interpreter) Deactivate(id string) error {
	if err := in.ledger.Deactivate(id); err != nil {
		return err
	}
	in.events.Record("user_deactivate", map[string]any{"user": id})
	return nil
}

// ProposeParams is the input to Propose. Zero Quorum and Deadline take
// the proposal class defaults.
type ProposeParams struct {
	AuthorID    string
	Description string
	Class       string
	Binding     proposal.Binding
	Quorum      float64
	Deadline    time.Time
}

func (in *Interpreter) Propose(p ProposeParams) (proposal.Proposal, error) {
	if err := in.requirePoH(p.AuthorID, "propose"); err != nil {
		return proposal.Proposal{}, err
	}
	class, className, err := in.def.Class(p.Class)
	if err != nil {
		return proposal.Proposal{}, err
	}
	quorum := p.Quorum
	if quorum == 0 {
		quorum = class.Quorum
	}
	deadline := p.Deadline
	if deadline.IsZero() {
		deadline = in.now().Add(time.Duration(class.VotingPeriod))
	}
	binding := p.Binding
	if binding.Kind == "" {
		binding.Kind = proposal.BindingNone
	}
	if binding.Kind == proposal.BindingFunding && (binding.PoolID == "" || binding.Amount <= 0) {
		return proposal.Proposal{}, errors.Wrap(ErrRuleViolation, "funding binding needs a pool and a positive amount")
	}

	prop, err := in.props.Propose(p.AuthorID, p.Description, className, binding, quorum, deadline)
	if err != nil {
		return proposal.Proposal{}, err
	}
	in.events.Record("proposal", map[string]any{
		"proposal_id": prop.ID, "user": p.AuthorID, "class": className,
	})
	return prop, nil
}

// VoteOutcome is a proposal vote plus anything the vote cascaded into.
// ExecuteError is set when the vote passed a funding proposal but its
// disbursement could not be made; the proposal stays passed and execute
// can be retried.
type VoteOutcome struct {
	proposal.VoteResult
	Executed     bool   `json:"executed"`
	ExecuteError string `json:"execute_error,omitempty"`
}

func (in *Interpreter) Vote(proposalID int64, identityID string, choice voting.Choice) (VoteOutcome, error) {
	if err := in.requirePoH(identityID, "vote"); err != nil {
		return VoteOutcome{}, err
	}
	res, err := in.props.Vote(proposalID, identityID, choice)
	if err != nil {
		return VoteOutcome{}, err
	}
	in.events.Record("vote", map[string]any{
		"proposal_id": proposalID, "user": identityID,
		"choice": choice, "weight": res.Weight,
	})

	out := VoteOutcome{VoteResult: res}
	if res.Status == proposal.StatusPassed {
		prop, err := in.props.Execute(proposalID)
		switch {
		case err == nil:
			out.Executed = true
			out.Status = prop.Status
			in.events.Record("proposal_executed", map[string]any{"proposal_id": proposalID})
		case in.executedElsewhere(proposalID, err):
			// A direct execute call slipped in between the settling vote
			// and this cascade; the proposal did execute.
			out.Executed = true
			out.Status = proposal.StatusExecuted
		default:
			out.ExecuteError = err.Error()
			in.events.Record("execute_failed", map[string]any{
				"proposal_id": proposalID, "error": err.Error(),
			})
		}
	}
	return out, nil
}

// executedElsewhere reports whether a failed cascade execution lost the
// race to a concurrent direct execute call. The cascade then has nothing
// left to do and no error to surface.
func (in *Interpreter) executedElsewhere(proposalID int64, err error) bool {
	if !errors.Is(err, proposal.ErrNotPassed) {
		return false
	}
	prop, getErr := in.props.Get(proposalID)
	return getErr == nil && prop.Status == proposal.StatusExecuted
}

func (in *Interpreter) EvaluateProposal(proposalID int64) (proposal.Status, error) {
	return in.props.Evaluate(proposalID)
}

// Execute retries the bound action of a passed proposal.
func (in *Interpreter) Execute(proposalID int64) (proposal.Proposal, error) {
	prop, err := in.props.Execute(proposalID)
	if err != nil {
		return proposal.Proposal{}, err
	}
	in.events.Record("proposal_executed", map[string]any{"proposal_id": proposalID})
	return prop, nil
}

func (in *Interpreter) Deposit(identityID, poolID string, amount int64) (int64, error) {
	balance, err := in.bank.DepositFunds(identityID, poolID, amount)
	if err != nil {
		return 0, err
	}
	in.events.Record("deposit", map[string]any{
		"user": identityID, "pool": poolID, "amount": amount, "balance": balance,
	})
	return balance, nil
}

func (in *Interpreter) Balance(poolID string) int64 {
	return in.bank.Balance(poolID)
}

func (in *Interpreter) Post(authorID, body string, tags []string) (content.Post, error) {
	if err := in.requirePoH(authorID, "post"); err != nil {
		return content.Post{}, err
	}
	post, err := in.posts.CreatePost(authorID, body, tags)
	if err != nil {
		return content.Post{}, err
	}
	in.events.Record("post", map[string]any{"user": authorID, "post_id": post.ID})
	return post, nil
}

func (in *Interpreter) Comment(authorID, postID, body string, tags []string) (content.Comment, error) {
	if err := in.requirePoH(authorID, "comment"); err != nil {
		return content.Comment{}, err
	}
	comment, err := in.posts.CreateComment(postID, authorID, body, tags)
	if err != nil {
		return content.Comment{}, err
	}
	in.events.Record("comment", map[string]any{
		"user": authorID, "post_id": postID, "comment_id": comment.ID,
	})
	return comment, nil
}

// ReportOutcome is a recorded report plus the dispute it may have
// triggered.
type ReportOutcome struct {
	Reporters int    `json:"reporters"`
	DisputeID *int64 `json:"dispute_id,omitempty"`
}

// Report flags content. Crossing the declared reporter threshold opens a
// dispute for the content in the same call, unless one already exists.
func (in *Interpreter) Report(ref content.Ref, reporterID, reason string) (ReportOutcome, error) {
	if err := in.requirePoH(reporterID, "report"); err != nil {
		return ReportOutcome{}, err
	}
	count, err := in.posts.Report(ref, reporterID, reason)
	if err != nil {
		return ReportOutcome{}, err
	}
	in.events.Record("report", map[string]any{
		"ref": ref.Key(), "user": reporterID, "reporters": count,
	})

	out := ReportOutcome{Reporters: count}
	if count >= in.def.ReportThreshold && !in.hasDisputeFor(ref) {
		d, err := in.disputes.Create(reporterID, subjectFor(ref), reason)
		if err != nil {
			return ReportOutcome{}, err
		}
		in.events.Record("dispute_create", map[string]any{
			"dispute_id": d.ID, "ref": ref.Key(), "trigger": "report_threshold",
		})
		out.DisputeID = &d.ID
	}
	return out, nil
}

func subjectFor(ref content.Ref) dispute.SubjectRef {
	kind := dispute.SubjectPost
	if ref.Kind == content.KindComment {
		kind = dispute.SubjectComment
	}
	return dispute.SubjectRef{Kind: kind, ID: ref.ID}
}

func (in *Interpreter) hasDisputeFor(ref content.Ref) bool {
	subject := subjectFor(ref)
	for _, d := range in.disputes.Snapshot() {
		if d.Subject == subject && d.Status != dispute.StatusResolved {
			return true
		}
	}
	return false
}

func (in *Interpreter) CreateDispute(reporterID string, subject dispute.SubjectRef, reason string) (dispute.Dispute, error) {
	if err := in.requirePoH(reporterID, "dispute"); err != nil {
		return dispute.Dispute{}, err
	}
	if err := in.subjectExists(subject); err != nil {
		return dispute.Dispute{}, err
	}
	d, err := in.disputes.Create(reporterID, subject, reason)
	if err != nil {
		return dispute.Dispute{}, err
	}
	in.events.Record("dispute_create", map[string]any{
		"dispute_id": d.ID, "user": reporterID,
		"subject_kind": subject.Kind, "subject_id": subject.ID,
	})
	return d, nil
}

func (in *Interpreter) subjectExists(subject dispute.SubjectRef) error {
	switch subject.Kind {
	case dispute.SubjectPost:
		_, err := in.posts.AuthorOf(content.Ref{Kind: content.KindPost, ID: subject.ID})
		return err
	case dispute.SubjectComment:
		_, err := in.posts.AuthorOf(content.Ref{Kind: content.KindComment, ID: subject.ID})
		return err
	case dispute.SubjectProposal:
		pid, err := strconv.ParseInt(subject.ID, 10, 64)
		if err != nil {
			return errors.Wrapf(ErrRuleViolation, "bad proposal ref %q", subject.ID)
		}
		_, err = in.props.Get(pid)
		return err
	}
	return errors.Wrapf(ErrRuleViolation, "unknown subject kind %q", subject.Kind)
}

// SelectJury draws the jury for a dispute using the declared pool size
// and eligibility bar.
func (in *Interpreter) SelectJury(disputeID int64) ([]string, error) {
	minPoH := in.def.Jury.MinPoHLevel
	if req := in.def.RequiredPoH("juror"); req > minPoH {
		minPoH = req
	}
	jurors, err := in.disputes.SelectJury(disputeID, in.def.Jury.PoolSize,
		func(user identity.Identity) bool {
			return user.Active && user.PoHLevel >= minPoH
		})
	if err != nil {
		return nil, err
	}
	in.events.Record("jurors_assigned", map[string]any{
		"dispute_id": disputeID, "jurors": jurors,
	})
	return jurors, nil
}

func (in *Interpreter) JurorVote(disputeID int64, jurorID string, verdict dispute.Verdict) error {
	replaced, err := in.disputes.JurorVote(disputeID, jurorID, verdict)
	if err != nil {
		return err
	}
	in.events.Record("juror_vote", map[string]any{
		"dispute_id": disputeID, "juror": jurorID,
		"verdict": verdict, "replaced": replaced,
	})
	return nil
}

// Resolve settles a dispute and applies the declared consequences: an
// upheld report hides the content and slashes its author, a dismissal
// slashes the reporter, and jurors who voted with the outcome earn the
// declared reward. Consequences run exactly once; re-resolving only
// returns the recorded outcome.
func (in *Interpreter) Resolve(disputeID int64) (dispute.Verdict, error) {
	outcome, settled, err := in.disputes.Resolve(disputeID)
	if err != nil {
		return "", err
	}
	if !settled {
		return outcome, nil
	}

	d, err := in.disputes.Get(disputeID)
	if err != nil {
		return "", err
	}
	in.events.Record("dispute_resolution", map[string]any{
		"dispute_id": disputeID, "outcome": outcome,
	})
	in.applyResolution(d, outcome)
	return outcome, nil
}

func (in *Interpreter) applyResolution(d dispute.Dispute, outcome dispute.Verdict) {
	jury := in.def.Jury
	switch outcome {
	case dispute.VerdictUphold:
		ref, ok := contentRefFor(d.Subject)
		if ok {
			if err := in.posts.Hide(ref); err != nil {
				in.logger.Warn("hide on uphold failed", "dispute_id", d.ID, "error", err)
			} else if author, err := in.posts.AuthorOf(ref); err == nil && jury.UpholdAuthorSlash > 0 {
				in.adjustReputation(author, -jury.UpholdAuthorSlash, "uphold_slash", d.ID)
			}
		}
	case dispute.VerdictDismiss:
		if jury.DismissReporterSlash > 0 {
			in.adjustReputation(d.ReporterID, -jury.DismissReporterSlash, "dismiss_slash", d.ID)
		}
	}
	if jury.JurorReward > 0 {
		for juror, verdict := range d.Verdicts {
			if verdict == outcome {
				in.adjustReputation(juror, jury.JurorReward, "juror_reward", d.ID)
			}
		}
	}
}

func contentRefFor(subject dispute.SubjectRef) (content.Ref, bool) {
	switch subject.Kind {
	case dispute.SubjectPost:
		return content.Ref{Kind: content.KindPost, ID: subject.ID}, true
	case dispute.SubjectComment:
		return content.Ref{Kind: content.KindComment, ID: subject.ID}, true
	}
	return content.Ref{}, false
}

func (in *Interpreter) adjustReputation(identityID string, delta int64, cause string, disputeID int64) {
	newRep, err := in.ledger.AdjustReputation(identityID, delta)
	if err != nil {
		in.logger.Warn("reputation adjustment failed",
			"identity", identityID, "cause", cause, "error", err)
		return
	}
	in.events.Record("reputation", map[string]any{
		"user": identityID, "delta": delta, "new_score": newRep,
		"cause": cause, "dispute_id": disputeID,
	})
}

func (in *Interpreter) Events(count int) []journal.Entry {
	return in.events.List(count)
}

// State is the full engine snapshot returned by show_state.
type State struct {
	Identities []identity.Identity `json:"identities"`
	Pools      map[string]int64    `json:"pools"`
	Proposals  []proposal.Proposal `json:"proposals"`
	Disputes   []dispute.Dispute   `json:"disputes"`
	Posts      []content.Post      `json:"posts"`
	Comments   []content.Comment   `json:"comments"`
	Events     int                 `json:"events"`
	At         time.Time           `json:"at"`
}

func (in *Interpreter) Snapshot() State {
	return State{
		Identities: in.ledger.Snapshot(),
		Pools:      in.bank.Balances(),
		Proposals:  in.props.Snapshot(),
		Disputes:   in.disputes.Snapshot(),
		Posts:      in.posts.Posts(),
		Comments:   in.posts.AllComments(),
		Events:     in.events.Len(),
		At:         in.now(),
	}
}

// Checkpoint writes the current snapshot through the storage driver.
func (in *Interpreter) Checkpoint() error {
	if in.store == nil {
		return nil
	}
	snap := in.Snapshot()
	raw, err := json.Marshal(snap)
	if err != nil {
		return errors.WithStack(err)
	}
	key := storage.Key("snapshot", map[string]string{
		"at": snap.At.UTC().Format(time.RFC3339Nano),
	})
	return errors.WithStack(in.store.WriteKey(key, raw))
}
