package queue

import "errors"

// Sentinel errors for the job queue.
var (
	ErrStopped = errors.New("queue stopped")
)
