package engine

import (
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/rlibfactory/rlibfactory/pkg/logger"
)

// SafeGroup is a bounded pool of build workers. A panicking worker is
// recovered and reported from Wait; the other workers keep running because
// the group carries no shared context.
type SafeGroup struct {
	group  errgroup.Group
	logger logger.Logger
}

// NewSafeGroup creates a pool running at most limit workers at once.
// A non-positive limit means one.
func NewSafeGroup(log logger.Logger, limit int) *SafeGroup {
	if log == nil {
		log = logger.Nop()
	}
	if limit < 1 {
		limit = 1
	}
	sg := &SafeGroup{logger: log}
	sg.group.SetLimit(limit)
	return sg
}

// Go runs fn for the crate named by label, blocking while the pool is full
func (sg *SafeGroup) Go(label string, fn func() error) {
	sg.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				sg.logger.Error("Worker panic recovered",
					logger.WithField("crate", label),
					logger.WithField("panic", r),
					logger.WithField("stack_trace", string(debug.Stack())))
				err = fmt.Errorf("worker for %s panicked: %v", label, r)
			}
		}()
		return fn()
	})
}

// Wait blocks until every worker returned and reports the first error
func (sg *SafeGroup) Wait() error {
	return sg.group.Wait()
}
