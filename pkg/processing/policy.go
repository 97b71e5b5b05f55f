package processing

import "time"

// RetryPolicy is the single place retry/timeout discipline lives.
// Submissions carry a large payload into a heavy remote computation, so the
// request timeout is minutes, not seconds. Retries apply only to
// transport-level failures (connection reset, no response); anything the
// remote actually answered is never replayed.
type RetryPolicy struct {
	MaxAttempts    int
	WaitTime       time.Duration
	MaxWaitTime    time.Duration
	RequestTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		WaitTime:       2 * time.Second,
		MaxWaitTime:    8 * time.Second,
		RequestTimeout: 5 * time.Minute,
	}
}
