package rules

import (
	"time"

	"github.com/pkg/errors"

	"github.com/weallnet/weall/content"
	"github.com/weallnet/weall/dispute"
	"github.com/weallnet/weall/proposal"
	"github.com/weallnet/weall/voting"
)

// Params carries the arguments of a generic action call, as decoded from
// JSON or collected by a CLI.
type Params map[string]any

func (p Params) str(name string) (string, error) {
	raw, found := p[name]
	if !found {
		return "", errors.Wrapf(ErrRuleViolation, "missing parameter %q", name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", errors.Wrapf(ErrRuleViolation, "parameter %q must be a string", name)
	}
	return s, nil
}

func (p Params) optStr(name string) string {
	s, _ := p[name].(string)
	return s
}

// num accepts the numeric encodings JSON decoding produces.
func (p Params) num(name string) (float64, bool, error) {
	raw, found := p[name]
	if !found {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	default:
		return 0, false, errors.Wrapf(ErrRuleViolation, "parameter %q must be a number", name)
	}
}

func (p Params) requiredInt(name string) (int64, error) {
	v, found, err := p.num(name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errors.Wrapf(ErrRuleViolation, "missing parameter %q", name)
	}
	return int64(v), nil
}

func (p Params) optInt(name string) (int64, error) {
	v, _, err := p.num(name)
	return int64(v), err
}

func (p Params) tags() []string {
	raw, found := p["tags"]
	if !found {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var tags []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}

// Apply is the single generic entry point: it validates the action name,
// decodes the parameters and dispatches to the typed operation. Every
// failure is one of the exported sentinel errors, wrapped with context.
func (in *Interpreter) Apply(action string, params Params) (any, error) {
	if params == nil {
		params = Params{}
	}
	switch action {
	case "register":
		id, err := params.str("id")
		if err != nil {
			return nil, err
		}
		poh, err := params.requiredInt("poh_level")
		if err != nil {
			return nil, err
		}
		return in.Register(id, int(poh))

	case "deactivate":
		id, err := params.str("id")
		if err != nil {
			return nil, err
		}
		return nil, in.Deactivate(id)

	case "propose":
		author, err := params.str("author")
		if err != nil {
			return nil, err
		}
		quorum, _, err := params.num("quorum")
		if err != nil {
			return nil, err
		}
		var deadline time.Time
		if raw := params.optStr("deadline"); raw != "" {
			deadline, err = time.Parse(time.RFC3339, raw)
			if err != nil {
				return nil, errors.Wrapf(ErrRuleViolation, "bad deadline %q", raw)
			}
		}
		binding := proposal.Binding{Kind: proposal.BindingNone}
		if kind := params.optStr("binding"); kind != "" {
			binding.Kind = proposal.BindingKind(kind)
			binding.PoolID = params.optStr("pool")
			if binding.Amount, err = params.optInt("amount"); err != nil {
				return nil, err
			}
		}
		return in.Propose(ProposeParams{
			AuthorID:    author,
			Description: params.optStr("description"),
			Class:       params.optStr("class"),
			Binding:     binding,
			Quorum:      quorum,
			Deadline:    deadline,
		})

	case "vote":
		pid, err := params.requiredInt("proposal_id")
		if err != nil {
			return nil, err
		}
		id, err := params.str("id")
		if err != nil {
			return nil, err
		}
		choice, err := params.str("choice")
		if err != nil {
			return nil, err
		}
		return in.Vote(pid, id, voting.Choice(choice))

	case "deposit":
		id, err := params.str("id")
		if err != nil {
			return nil, err
		}
		pool, err := params.str("pool")
		if err != nil {
			return nil, err
		}
		amount, err := params.requiredInt("amount")
		if err != nil {
			return nil, err
		}
		return in.Deposit(id, pool, amount)

	case "balance":
		pool, err := params.str("pool")
		if err != nil {
			return nil, err
		}
		return in.Balance(pool), nil

	case "post":
		author, err := params.str("id")
		if err != nil {
			return nil, err
		}
		body, err := params.str("body")
		if err != nil {
			return nil, err
		}
		return in.Post(author, body, params.tags())

	case "comment":
		author, err := params.str("id")
		if err != nil {
			return nil, err
		}
		postID, err := params.str("post_id")
		if err != nil {
			return nil, err
		}
		body, err := params.str("body")
		if err != nil {
			return nil, err
		}
		return in.Comment(author, postID, body, params.tags())

	case "report":
		reporter, err := params.str("id")
		if err != nil {
			return nil, err
		}
		kind, err := params.str("kind")
		if err != nil {
			return nil, err
		}
		refID, err := params.str("ref")
		if err != nil {
			return nil, err
		}
		ref := content.Ref{Kind: content.RefKind(kind), ID: refID}
		return in.Report(ref, reporter, params.optStr("reason"))

	case "create_dispute":
		reporter, err := params.str("id")
		if err != nil {
			return nil, err
		}
		kind, err := params.str("kind")
		if err != nil {
			return nil, err
		}
		subjectID, err := params.str("subject")
		if err != nil {
			return nil, err
		}
		subject := dispute.SubjectRef{Kind: dispute.SubjectKind(kind), ID: subjectID}
		return in.CreateDispute(reporter, subject, params.optStr("reason"))

	case "select_jury":
		did, err := params.requiredInt("dispute_id")
		if err != nil {
			return nil, err
		}
		return in.SelectJury(did)

	case "juror_vote":
		did, err := params.requiredInt("dispute_id")
		if err != nil {
			return nil, err
		}
		id, err := params.str("id")
		if err != nil {
			return nil, err
		}
		verdict, err := params.str("verdict")
		if err != nil {
			return nil, err
		}
		return nil, in.JurorVote(did, id, dispute.Verdict(verdict))

	case "resolve":
		did, err := params.requiredInt("dispute_id")
		if err != nil {
			return nil, err
		}
		return in.Resolve(did)

	case "evaluate":
		pid, err := params.requiredInt("proposal_id")
		if err != nil {
			return nil, err
		}
		return in.EvaluateProposal(pid)

	case "execute":
		pid, err := params.requiredInt("proposal_id")
		if err != nil {
			return nil, err
		}
		return in.Execute(pid)

	case "list_events":
		count, err := params.optInt("count")
		if err != nil {
			return nil, err
		}
		return in.Events(int(count)), nil

	case "show_state":
		return in.Snapshot(), nil
	}
	return nil, errors.Wrapf(ErrUnknownAction, "action %q", action)
}
