package generator

import (
	"fmt"
	"time"
)

// RangeError reports a synthesized or corrected value that cannot satisfy a
// hard invariant. It identifies the failing entity, metric and timestamp so
// the offending scenario configuration can be fixed. Generation is
// deterministic, so a RangeError recurs identically on rerun and is never
// retried.
type RangeError struct {
	Entity    string
	Metric    string
	Timestamp time.Time
	Value     float64
	Low       float64
	High      float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf(
		"value %v of %s for %s at %s outside hard range [%v, %v]",
		e.Value, e.Metric, e.Entity, e.Timestamp.Format(time.RFC3339), e.Low, e.High,
	)
}
