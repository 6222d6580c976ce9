package engine

import (
	"context"

	"github.com/rlibfactory/rlibfactory/pkg/builders"
	"github.com/rlibfactory/rlibfactory/pkg/summary"
	"github.com/rlibfactory/rlibfactory/pkg/types"
)

// Runner executes one build attempt.
// Implemented by builders.CommandRunner and mocks.MockRunner.
type Runner interface {
	Run(ctx context.Context, req builders.Request) (builders.Result, error)
	Plan(req builders.Request) []string
}

// Recorder receives per-crate events as they happen.
// Implemented by summary.Reporter.
type Recorder interface {
	Record(ev summary.Event) error
	Interrupted(id types.CrateID)
}

// The store and the classifier are consumed through state.Store and
// analyzers.OutcomeClassifier, which already have several implementations.
