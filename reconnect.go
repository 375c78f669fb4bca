package chatkit

import (
	"math"
	"time"
)

// retrySchedule describes the reconnect backoff policy as an immutable value.
// The client stores only the attempt counter; the wait before each attempt is
// recomputed from the schedule, which keeps retry timing testable on its own.
type retrySchedule struct {
	base        time.Duration
	factor      float64
	maxAttempts int
}

func defaultRetrySchedule() retrySchedule {
	return retrySchedule{
		base:        2 * time.Second,
		factor:      1.5,
		maxAttempts: 5,
	}
}

// delay returns the wait before retry attempt n (1-based): base × factor^(n−1).
func (s retrySchedule) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(s.base) * math.Pow(s.factor, float64(attempt-1)))
}

// exhausted reports whether n consecutive failures spend the schedule's bound.
func (s retrySchedule) exhausted(failures int) bool {
	return failures >= s.maxAttempts
}
