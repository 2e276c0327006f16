// Package retryafter parses the HTTP Retry-After header (pushiko design
// §6.2 / testable property 8): either delta-seconds or an HTTP-date, per
// RFC 7231 §7.1.3. net/http.ParseTime already implements the three date
// formats RFC 7231 asks a recipient to accept, so there is no library in
// the retrieval pack that does anything this package can't get from the
// standard library directly; wrapping it here only adds the delta-seconds
// and clamping behavior the spec asks for.
package retryafter

import (
	"net/http"
	"strconv"
	"time"
)

// Parse returns the duration to wait before retrying, and whether the header
// value could be parsed at all. A negative delta or a date in the past is
// clamped to zero, matching "retry immediately" rather than "retry never".
func Parse(header string, now time.Time) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0, true
		}
		return time.Duration(secs) * time.Second, true
	}
	when, err := http.ParseTime(header)
	if err != nil {
		return 0, false
	}
	d := when.Sub(now)
	if d < 0 {
		return 0, true
	}
	return d, true
}
