// Package analyzers interprets build tool output
package analyzers

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/rlibfactory/rlibfactory/pkg/types"
)

const (
	// DefaultPartialPattern matches the per-crate tally printed by the build
	// command. The first group is the number built, the second the total.
	DefaultPartialPattern = `Done:\s+(\d+)/(\d+)\s+versions produced rlibs`

	// DefaultNoArtifactPattern matches a missing rlib report
	DefaultNoArtifactPattern = `(?m)Rlib for .+ not found`
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// OutcomeClassifier maps a finished attempt to an outcome
type OutcomeClassifier interface {
	Classify(exitCode int, log string) types.Outcome
}

// MarkerClassifier classifies attempts by searching the log for markers.
// For a non-zero exit the precedence is partial, then no_rlib, then failed.
type MarkerClassifier struct {
	partial    *regexp.Regexp
	noArtifact *regexp.Regexp
}

var _ OutcomeClassifier = (*MarkerClassifier)(nil)

// NewMarkerClassifier compiles the configured patterns, falling back to the
// defaults for empty ones.
func NewMarkerClassifier(cfg types.ClassifierConfig) (*MarkerClassifier, error) {
	partialExpr := cfg.PartialPattern
	if partialExpr == "" {
		partialExpr = DefaultPartialPattern
	}
	noArtifactExpr := cfg.NoArtifactPattern
	if noArtifactExpr == "" {
		noArtifactExpr = DefaultNoArtifactPattern
	}

	partial, err := regexp.Compile(partialExpr)
	if err != nil {
		return nil, types.WrapConfigurationError("classifier.partial_pattern", err)
	}
	if partial.NumSubexp() < 2 {
		return nil, types.NewConfigurationError("classifier.partial_pattern",
			fmt.Sprintf("pattern %q needs two capture groups (built, total)", partialExpr))
	}
	noArtifact, err := regexp.Compile(noArtifactExpr)
	if err != nil {
		return nil, types.WrapConfigurationError("classifier.no_artifact_pattern", err)
	}

	return &MarkerClassifier{partial: partial, noArtifact: noArtifact}, nil
}

// DefaultClassifier returns a classifier using the built-in markers
func DefaultClassifier() *MarkerClassifier {
	c, err := NewMarkerClassifier(types.ClassifierConfig{})
	if err != nil {
		panic(err)
	}
	return c
}

// Classify implements OutcomeClassifier
func (c *MarkerClassifier) Classify(exitCode int, log string) types.Outcome {
	log = ansiEscape.ReplaceAllString(log, "")
	built, total, tallied := c.lastTally(log)

	if exitCode == 0 {
		out := types.Outcome{Kind: types.OutcomeOK}
		if tallied {
			out.Built, out.Total = built, total
		}
		return out
	}

	if tallied && built > 0 {
		return types.Outcome{Kind: types.OutcomePartial, Built: built, Total: total}
	}
	if c.noArtifact.MatchString(log) {
		return types.Outcome{Kind: types.OutcomeNoArtifact}
	}
	return types.Outcome{Kind: types.OutcomeFailed}
}

// lastTally returns the numbers from the last tally line in log
func (c *MarkerClassifier) lastTally(log string) (built, total int, ok bool) {
	matches := c.partial.FindAllStringSubmatch(log, -1)
	if len(matches) == 0 {
		return 0, 0, false
	}
	last := matches[len(matches)-1]
	b, errB := strconv.Atoi(last[1])
	t, errT := strconv.Atoi(last[2])
	if errB != nil || errT != nil {
		return 0, 0, false
	}
	return b, t, true
}
