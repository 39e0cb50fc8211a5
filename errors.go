package tetherbpf

import (
	"errors"
	"fmt"
)

// FatalError marks a failure after which the process must not keep
// running: a partial cgroup attach set or a failed attachment
// self-check produces silently wrong accounting, so recovery is not
// attempted. The cmd layer exits on it; library code never does.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err as a FatalError for operation op.
func Fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether any error in err's chain is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
