package topology

import (
	"fmt"

	"github.com/pkg/errors"
)

// TopologyError reports that the per-CPU socket assignment could not be
// obtained. Callers cannot make affinity decisions without it, so the Must*
// helpers treat it as fatal.
type TopologyError struct {
	Source string
	Err    error
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("cpu topology unavailable from %s: %v", e.Source, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

func topologyErrorf(source, format string, args ...interface{}) error {
	return &TopologyError{Source: source, Err: errors.Errorf(format, args...)}
}

func wrapTopologyError(source string, err error, msg string) error {
	return &TopologyError{Source: source, Err: errors.Wrap(err, msg)}
}

// IsTopologyError returns true if err is, or wraps, a TopologyError.
func IsTopologyError(err error) bool {
	var te *TopologyError
	return errors.As(err, &te)
}
