package webdav

import (
	"strings"
	"sync"
	"time"
)

// debounceWindow bounds how often a 401 response is allowed to trigger a
// fresh run of the token command: concurrent requests failing auth at once
// must not each kick off their own refresh (spec.md §4.12, §4.17 — ported
// from megfile's webdav_path.py token-refresh debounce).
const debounceWindow = 5 * time.Second

// tokenSource runs command through runner to obtain a bearer token,
// memoizing the result for debounceWindow so a burst of 401s collapses
// into a single refresh.
type tokenSource struct {
	command string
	runner  CommandRunner

	mu       sync.Mutex
	token    string
	fetched  time.Time
	lastErr  error
}

func newTokenSource(command string, runner CommandRunner) *tokenSource {
	return &tokenSource{command: command, runner: runner}
}

// Token returns the memoized token, fetching it on first use.
func (t *tokenSource) Token() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token == "" && t.lastErr == nil {
		t.fetchLocked()
	}
	return t.token, t.lastErr
}

// Refresh forces a new run of the token command unless one already
// happened within the debounce window.
func (t *tokenSource) Refresh() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if time.Since(t.fetched) < debounceWindow {
		return t.lastErr
	}
	t.fetchLocked()
	return t.lastErr
}

func (t *tokenSource) fetchLocked() {
	out, err := t.runner(t.command)
	t.fetched = time.Now()
	if err != nil {
		t.lastErr = err
		return
	}
	t.token = strings.TrimSpace(out)
	t.lastErr = nil
}
