package rules

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/weallnet/weall/voting"
)

var (
	ErrInvalidRuleDefinition = errors.New("invalid rule definition")
	ErrUnknownAction         = errors.New("unknown action")
	ErrRuleViolation         = errors.New("rule violation")
)

// DefaultClass is the proposal class used when a proposer names none.
const DefaultClass = "default"

// Duration wraps time.Duration so rule files can say "72h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return errors.Wrap(ErrInvalidRuleDefinition, "duration must be a string")
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(ErrInvalidRuleDefinition, "bad duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

// ProposalClass declares the quorum threshold and voting window for one
// class of proposals.
type ProposalClass struct {
	Quorum       float64  `yaml:"quorum"`
	VotingPeriod Duration `yaml:"voting_period"`
}

// JuryRules declares how juries are drawn and what a resolution does to
// the reputations involved.
type JuryRules struct {
	PoolSize             int   `yaml:"pool_size"`
	MinPoHLevel          int   `yaml:"min_poh_level"`
	SelectionSeed        int64 `yaml:"selection_seed"`
	UpholdAuthorSlash    int64 `yaml:"uphold_author_slash"`
	DismissReporterSlash int64 `yaml:"dismiss_reporter_slash"`
	JurorReward          int64 `yaml:"juror_reward"`
}

// Definition is the externally declared rule set the interpreter binds
// to the engines. It is data, not code: weighting names one of the
// closed set of strategies, never arbitrary logic. Unknown fields in the
// source document are tolerated; missing required ones are not.
type Definition struct {
	Version         int                      `yaml:"version"`
	Weighting       string                   `yaml:"weighting"`
	PoHRequirements map[string]int           `yaml:"poh_requirements"`
	ProposalClasses map[string]ProposalClass `yaml:"proposal_classes"`
	ReportThreshold int                      `yaml:"report_threshold"`
	Jury            JuryRules                `yaml:"jury"`
}

// RequiredPoH returns the PoH level an action demands. Actions absent
// from the table require level 0.
func (d *Definition) RequiredPoH(action string) int {
	return d.PoHRequirements[action]
}

// Class resolves a proposal class name, defaulting the empty name.
func (d *Definition) Class(name string) (ProposalClass, string, error) {
	if name == "" {
		name = DefaultClass
	}
	class, found := d.ProposalClasses[name]
	if !found {
		return ProposalClass{}, "", errors.Wrapf(ErrRuleViolation, "unknown proposal class %q", name)
	}
	return class, name, nil
}

// Validate rejects definitions a running engine could not honor. This is
// the one fatal check: a malformed rule file must stop startup, not fail
// later on arbitrary actions. Quadratic weighting is the documented
// default when no strategy is named.
func (d *Definition) Validate() error {
	if d.Version < 1 {
		return errors.Wrap(ErrInvalidRuleDefinition, "version is required and must be >= 1")
	}
	if d.Weighting == "" {
		d.Weighting = "quadratic"
	}
	if _, found := voting.StrategyByName(d.Weighting); !found {
		return errors.Wrapf(ErrInvalidRuleDefinition, "unknown weighting strategy %q", d.Weighting)
	}
	if len(d.ProposalClasses) == 0 {
		return errors.Wrap(ErrInvalidRuleDefinition, "at least one proposal class is required")
	}
	if _, found := d.ProposalClasses[DefaultClass]; !found {
		return errors.Wrapf(ErrInvalidRuleDefinition, "proposal class %q is required", DefaultClass)
	}
	for name, class := range d.ProposalClasses {
		if class.Quorum <= 0 {
			return errors.Wrapf(ErrInvalidRuleDefinition, "class %q: quorum must be positive", name)
		}
		if class.VotingPeriod <= 0 {
			return errors.Wrapf(ErrInvalidRuleDefinition, "class %q: voting_period is required", name)
		}
	}
	if d.ReportThreshold < 1 {
		return errors.Wrap(ErrInvalidRuleDefinition, "report_threshold is required and must be >= 1")
	}
	if d.Jury.PoolSize < 1 {
		return errors.Wrap(ErrInvalidRuleDefinition, "jury.pool_size is required and must be >= 1")
	}
	if d.Jury.MinPoHLevel < 0 {
		return errors.Wrap(ErrInvalidRuleDefinition, "jury.min_poh_level must not be negative")
	}
	for action, level := range d.PoHRequirements {
		if level < 0 {
			return errors.Wrapf(ErrInvalidRuleDefinition, "poh_requirements.%s must not be negative", action)
		}
	}
	if d.Jury.UpholdAuthorSlash < 0 || d.Jury.DismissReporterSlash < 0 || d.Jury.JurorReward < 0 {
		return errors.Wrap(ErrInvalidRuleDefinition, "jury reputation deltas must not be negative")
	}
	return nil
}

// Load parses and validates a rule definition document.
func Load(r io.Reader) (*Definition, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		if errors.Is(err, ErrInvalidRuleDefinition) {
			return nil, err
		}
		return nil, errors.Wrapf(ErrInvalidRuleDefinition, "parse: %v", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFile loads rule definitions from a file path.
func LoadFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	return Load(f)
}
