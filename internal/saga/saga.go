// Package saga runs a multi-write operation as an ordered list of steps
// against stores that offer no transaction spanning the writes.
package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Policy decides what happens to already applied steps when a later step
// fails.
type Policy int

const (
	// BestEffort leaves applied steps in place.
	BestEffort Policy = iota
	// Compensate undoes applied steps in reverse order.
	Compensate
)

func (p Policy) String() string {
	switch p {
	case BestEffort:
		return "best-effort"
	case Compensate:
		return "compensate"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy accepts "best-effort" or "compensate" (case-insensitive).
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "best-effort", "besteffort":
		return BestEffort, nil
	case "compensate":
		return Compensate, nil
	default:
		return BestEffort, fmt.Errorf("unknown write policy %q", s)
	}
}

// Step is one write. Undo may be nil when the step has nothing to revert
// or when an earlier step's Undo already covers it.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// StepError reports the step that failed and what happened to the steps
// applied before it.
type StepError struct {
	Step        string
	Err         error
	Applied     []string
	Compensated bool
	UndoErr     error
}

func (e *StepError) Error() string {
	return e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Runner executes steps under a policy.
type Runner struct {
	policy Policy
	logger *zap.Logger
}

func NewRunner(policy Policy, logger *zap.Logger) Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Runner{policy: policy, logger: logger}
}

func (r Runner) Policy() Policy {
	return r.policy
}

// Run executes steps in order and stops at the first failure. Compensation
// runs on a context detached from ctx's cancellation so a cancelled request
// still gets its partial writes reverted.
func (r Runner) Run(ctx context.Context, steps []Step) error {
	applied := make([]Step, 0, len(steps))
	for _, step := range steps {
		if err := step.Do(ctx); err != nil {
			stepErr := &StepError{Step: step.Name, Err: err, Applied: names(applied)}
			logger := r.logger.With(zap.String("step", step.Name), zap.Strings("applied", stepErr.Applied))
			if r.policy != Compensate || len(applied) == 0 {
				if len(applied) > 0 {
					logger.Warn("write step failed, earlier steps left in place", zap.Error(err))
				}
				return stepErr
			}

			stepErr.Compensated = true
			stepErr.UndoErr = r.undo(context.WithoutCancel(ctx), applied)
			if stepErr.UndoErr != nil {
				logger.Error("write step failed and compensation was incomplete", zap.Error(err), zap.NamedError("undo_error", stepErr.UndoErr))
			} else {
				logger.Warn("write step failed, earlier steps compensated", zap.Error(err))
			}
			return stepErr
		}
		applied = append(applied, step)
	}
	return nil
}

func (r Runner) undo(ctx context.Context, applied []Step) error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		step := applied[i]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(ctx); err != nil {
			errs = append(errs, fmt.Errorf("undo %s: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}

func names(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Name
	}
	return out
}
