package rules

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validRules = `
version: 1
weighting: quadratic
poh_requirements:
  propose: 3
  vote: 2
  dispute: 3
  juror: 3
proposal_classes:
  default:
    quorum: 10
    voting_period: 72h
  funding:
    quorum: 25
    voting_period: 168h
report_threshold: 3
jury:
  pool_size: 3
  min_poh_level: 3
  uphold_author_slash: 2
  dismiss_reporter_slash: 1
`

func TestLoad(t *testing.T) {
	t.Run("normal", func(t *testing.T) {
		def, err := Load(strings.NewReader(validRules))
		require.NoError(t, err)
		assert.Equal(t, "quadratic", def.Weighting)
		assert.Equal(t, 3, def.RequiredPoH("propose"))
		assert.Equal(t, 0, def.RequiredPoH("unlisted"))
		assert.Equal(t, 3, def.ReportThreshold)

		class, name, err := def.Class("")
		require.NoError(t, err)
		assert.Equal(t, DefaultClass, name)
		assert.Equal(t, 10.0, class.Quorum)
		assert.Equal(t, 72*time.Hour, time.Duration(class.VotingPeriod))

		_, _, err = def.Class("funding")
		require.NoError(t, err)
		_, _, err = def.Class("nonexistent")
		assert.ErrorIs(t, err, ErrRuleViolation)
	})

	t.Run("weighting defaults to quadratic", func(t *testing.T) {
		doc := strings.Replace(validRules, "weighting: quadratic\n", "", 1)
		def, err := Load(strings.NewReader(doc))
		require.NoError(t, err)
		assert.Equal(t, "quadratic", def.Weighting)
	})

	t.Run("unknown optional fields tolerated", func(t *testing.T) {
		doc := validRules + "\nfuture_knob: 42\n"
		_, err := Load(strings.NewReader(doc))
		assert.NoError(t, err)
	})

	t.Run("rejects malformed documents", func(t *testing.T) {
		for name, doc := range map[string]string{
			"missing version":      strings.Replace(validRules, "version: 1\n", "", 1),
			"unknown weighting":    strings.Replace(validRules, "weighting: quadratic", "weighting: bespoke", 1),
			"no default class":     strings.Replace(validRules, "default:", "main:", 1),
			"zero quorum":          strings.Replace(validRules, "quorum: 10", "quorum: 0", 1),
			"bad duration":         strings.Replace(validRules, "72h", "three days", 1),
			"no report threshold":  strings.Replace(validRules, "report_threshold: 3\n", "", 1),
			"no jury pool":         strings.Replace(validRules, "pool_size: 3", "pool_size: 0", 1),
			"negative poh":         strings.Replace(validRules, "vote: 2", "vote: -2", 1),
			"negative slash":       strings.Replace(validRules, "uphold_author_slash: 2", "uphold_author_slash: -2", 1),
			"not yaml":             "{{{",
		} {
			t.Run(name, func(t *testing.T) {
				_, err := Load(strings.NewReader(doc))
				assert.ErrorIs(t, err, ErrInvalidRuleDefinition)
			})
		}
	})
}

func TestLoadFile(t *testing.T) {
	def, err := LoadFile("testdata/rules.yaml")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, def.Version, 1)

	_, err = LoadFile("testdata/does-not-exist.yaml")
	assert.Error(t, err)
}
