package relay

import (
	"fmt"

	"eventstream/internal/offsets"
)

var ErrInvalidBatchSize = offsets.ErrInvalidBatchSize

// FatalError ends a run. Pending offsets are not committed; the process is
// expected to be restarted and resume from the last committed batch.
type FatalError struct {
	Op  string // poll | dispatch | commit | subscribe
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("relay: fatal %s: %v", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }
