// Package saga runs an ordered list of steps and, when one fails, undoes the
// already-completed steps in reverse order.
package saga

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Step is one forward action paired with the compensation that reverts it.
// Undo may be nil for steps with nothing to revert.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// StepError reports which step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Saga executes steps sequentially.
type Saga struct {
	steps  []Step
	logger *zap.Logger
}

// New creates a Saga. A nil logger discards compensation failures silently.
func New(logger *zap.Logger, steps ...Step) *Saga {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saga{steps: steps, logger: logger}
}

// Add appends a step.
func (s *Saga) Add(step Step) {
	s.steps = append(s.steps, step)
}

// Run executes every step. On the first failure the completed steps are
// compensated newest-first; compensation errors are logged and swallowed.
// The returned error is a *StepError wrapping the failing step's error.
func (s *Saga) Run(ctx context.Context) error {
	done := make([]Step, 0, len(s.steps))

	for _, step := range s.steps {
		if err := step.Do(ctx); err != nil {
			s.compensate(ctx, done)
			return &StepError{Step: step.Name, Err: err}
		}
		done = append(done, step)
	}

	return nil
}

func (s *Saga) compensate(ctx context.Context, done []Step) {
	// Compensation must run even if the request context was cancelled.
	ctx = context.WithoutCancel(ctx)

	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(ctx); err != nil {
			s.logger.Error("compensation failed",
				zap.String("step", step.Name),
				zap.Error(err),
			)
		}
	}
}
