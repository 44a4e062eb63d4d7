package policy

import (
	"sync"
)

// verdict is the tagged state behind a policy handle.
type verdict int

const (
	verdictPending verdict = iota
	verdictApproved
	verdictFailed
)

func (v verdict) String() string {
	switch v {
	case verdictApproved:
		return "approved"
	case verdictFailed:
		return "failed"
	default:
		return "pending"
	}
}

// handle implements engine.Handle for a single invocation.
// Policies may report from their own goroutines, so transitions are locked.
type handle struct {
	mu       sync.Mutex
	state    verdict
	messages []string
	sealed   bool
}

func newHandle() *handle {
	return &handle{state: verdictPending}
}

// Approve moves Pending to Approved. Ignored once failed or sealed.
func (h *handle) Approve() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sealed || h.state != verdictPending {
		return
	}
	h.state = verdictApproved
}

// Fail moves any state to Failed and appends the message.
func (h *handle) Fail(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sealed {
		return
	}
	h.state = verdictFailed
	h.messages = append(h.messages, message)
}

// seal freezes the handle and returns the final verdict.
func (h *handle) seal() (approved, failed bool, messages []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sealed = true
	out := make([]string, len(h.messages))
	copy(out, h.messages)
	return h.state == verdictApproved, h.state == verdictFailed, out
}
