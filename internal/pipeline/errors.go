package pipeline

import (
	"errors"
	"fmt"
)

// ErrNoCandidates is returned by Select when there is nothing to compare.
var ErrNoCandidates = errors.New("no training results to select from")

// PreconditionError reports input that failed validation before training
// started for a family.
type PreconditionError struct {
	Family string
	Err    error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition failed: %v", e.Family, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// TrainingError reports a failure while fitting, evaluating or logging a
// family's candidate run.
type TrainingError struct {
	Family string
	Err    error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("%s: training failed: %v", e.Family, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

// SelectionError names the run that could not be compared.
type SelectionError struct {
	RunID string
	Err   error
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("select run %s: %v", e.RunID, e.Err)
}

func (e *SelectionError) Unwrap() error { return e.Err }

// RegistryError reports a rejected registration or stage transition.
// Op is "register" or "transition".
type RegistryError struct {
	Op  string
	Err error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("model registry %s: %v", e.Op, e.Err)
}

func (e *RegistryError) Unwrap() error { return e.Err }
