package retry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	policy := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Classify:    func(err error) Disposition { return Transient },
	}

	err := Do(context.Background(), "get", policy, nil, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoReturnsImmediatelyOnPermanent(t *testing.T) {
	attempts := 0
	policy := Policy{
		MaxAttempts: 5,
		Classify:    func(err error) Disposition { return Permanent },
	}

	err := Do(context.Background(), "put", policy, nil, func(ctx context.Context) error {
		attempts++
		return errors.New("permanent failure")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on Permanent)", attempts)
	}
}

func TestDoRunsPreFlightOnRefreshAuth(t *testing.T) {
	preflightCalls := 0
	attempts := 0
	policy := Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		Classify:    func(err error) Disposition { return RefreshAuthThenRetry },
		PreFlight: func(ctx context.Context) error {
			preflightCalls++
			return nil
		},
	}

	_ = Do(context.Background(), "get", policy, nil, func(ctx context.Context) error {
		attempts++
		return errors.New("401")
	})
	if preflightCalls != 1 {
		t.Errorf("preflightCalls = %d, want 1 (called once, before the final attempt)", preflightCalls)
	}
}

type seekCounter struct {
	*errBytesReader
	seeks int
}

type errBytesReader struct{ data []byte }

func (r *errBytesReader) Read(p []byte) (int, error) { return 0, io.EOF }

func (s *seekCounter) Seek(offset int64, whence int) (int64, error) {
	s.seeks++
	return 0, nil
}

func TestDoRewindsSeekableBodyBeforeRetry(t *testing.T) {
	body := &seekCounter{errBytesReader: &errBytesReader{}}
	attempts := 0
	policy := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Classify:    func(err error) Disposition { return Transient },
	}

	_ = Do(context.Background(), "put", policy, body, func(ctx context.Context) error {
		attempts++
		return errors.New("transient")
	})
	if body.seeks != attempts-1 {
		t.Errorf("seeks = %d, want %d (one rewind per retry, not the first attempt)", body.seeks, attempts-1)
	}
}

func TestDefaultHTTPClassifier(t *testing.T) {
	cases := []struct {
		status int
		code   string
		want   Disposition
	}{
		{0, "", Transient},
		{500, "", Transient},
		{429, "", Transient},
		{401, "", RefreshAuthThenRetry},
		{400, "IncompleteRead", Transient},
		{400, "SlowDown", Transient},
		{400, "", Permanent},
	}
	for _, c := range cases {
		if got := DefaultHTTPClassifier(c.status, c.code); got != c.want {
			t.Errorf("DefaultHTTPClassifier(%d, %q) = %v, want %v", c.status, c.code, got, c.want)
		}
	}
}
