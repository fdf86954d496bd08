// Package retry implements the retry decorator of spec.md §4.15 and §9:
// it WRAPS an injected client call, rather than monkey-patching the client
// itself (the teacher's aws.Retryer on *backendStruct generalized to any
// operation, not just S3).
package retry

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"time"

	"github.com/NVIDIA/mscfile/mscerr"
)

// Classifier decides whether err is worth retrying.
type Classifier func(err error) Disposition

// Disposition is the outcome of classifying an error.
type Disposition int

const (
	// Permanent means don't retry; surface the error as-is.
	Permanent Disposition = iota
	// Transient means retry with backoff.
	Transient
	// RefreshAuthThenRetry means run the PreFlight hook (e.g. refresh a
	// WebDAV bearer token) before the next attempt.
	RefreshAuthThenRetry
)

// Policy configures one retry decorator instance.
type Policy struct {
	MaxAttempts int           // total attempts, including the first; default 3
	BaseDelay   time.Duration // default 100ms
	Multiplier  float64       // default 2.0
	MaxDelay    time.Duration // default 10s
	Classify    Classifier    // required
	// PreFlight runs before every attempt after the first; used to refresh
	// stale credentials (e.g. a WebDAV bearer token) ahead of a retry.
	PreFlight func(ctx context.Context) error
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 3
	}
	return p.MaxAttempts
}

func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 10 * time.Second
	}
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	if time.Duration(d) > max {
		d = float64(max)
	}
	// Full jitter: uniform in [0, d].
	jittered := time.Duration(rand.Float64() * d)
	return jittered
}

// Do executes fn, retrying per Policy. body, if non-nil, is rewound via
// Seek(0, io.SeekStart) before a retry; a non-seekable body that needs
// rewinding fails fast rather than silently resending a partial stream
// (spec.md §9 "Retry callback can rewind a retriable body").
func Do(ctx context.Context, op string, p Policy, body io.Seeker, fn func(ctx context.Context) error) error {
	var lastErr error
	attempts := p.maxAttempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if body != nil {
				if _, err := body.Seek(0, io.SeekStart); err != nil {
					return mscerr.New(mscerr.Transport, op, "", err)
				}
			}
			select {
			case <-time.After(p.delay(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		disp := Permanent
		if p.Classify != nil {
			disp = p.Classify(err)
		}

		switch disp {
		case Permanent:
			return err
		case RefreshAuthThenRetry:
			if p.PreFlight != nil {
				if pfErr := p.PreFlight(ctx); pfErr != nil {
					return pfErr
				}
			}
		case Transient:
			// fall through to next attempt
		}
	}

	return mscerr.New(mscerr.Transport, op, "", lastErr)
}

// DefaultHTTPClassifier classifies a plain error plus an optional HTTP
// status code, matching spec.md §4.15's "transport exceptions, HTTP 5xx,
// specific S3 codes".
func DefaultHTTPClassifier(statusCode int, s3Code string) Disposition {
	switch {
	case statusCode == 0:
		return Transient // network-level error, no response at all
	case statusCode == 429:
		return Transient
	case statusCode >= 500:
		return Transient
	case statusCode == 401:
		return RefreshAuthThenRetry
	}
	switch s3Code {
	case "IncompleteRead", "SlowDown", "RequestTimeout":
		return Transient
	}
	return Permanent
}

// IsTimeoutOrClosed reports whether err looks like a transient connection
// failure (deadline exceeded, connection reset, EOF mid-stream).
func IsTimeoutOrClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	type timeout interface{ Timeout() bool }
	var t timeout
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}
