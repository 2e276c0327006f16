package client

import (
	"errors"

	"github.com/bloomberg/pushiko-sub000/errs"
)

// RetryPolicy decides whether a transport-level failure is worth retrying
// (pushiko design §4.7, "Retry policy").
type RetryPolicy interface {
	CanRetry(err error) bool
}

// DefaultRetryPolicy implements pushiko design's DefaultHttpRetryPolicy:
// channel-local failures and a REFUSED_STREAM HTTP/2 error are retried,
// everything else (including a plain IOError and cancellation) is not.
type DefaultRetryPolicy struct{}

// CanRetry implements RetryPolicy.
func (DefaultRetryPolicy) CanRetry(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, errs.ErrChannelInactive), errors.Is(err, errs.ErrChannelStreamQuota), errors.Is(err, errs.ErrChannelWriteFailed):
		return true
	case errs.RefusedStream(err):
		return true
	default:
		return false
	}
}
