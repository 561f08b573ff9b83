package executor

import (
	"fmt"
	"sync"

	"github.com/restflow/restflow/internal/contextmgr"
	"github.com/restflow/restflow/pkg/models"
)

// DeferredCallTracker manages in-flight DeferredToolCalls for a single run:
// created when a tool returns a pending_approval sentinel, resolved by an
// out-of-band approval steer command or by expiry, then drained and
// replayed into the conversation on the next loop iteration (spec §3,
// §4.1 step 1 and step 9). Grounded on the teacher's
// internal/agent/approval.go ApprovalChecker, replacing its UI-availability
// and skill-pattern policy machinery (no analog in spec scope) with the
// simpler grammar-driven resolution spec describes.
type DeferredCallTracker struct {
	mu    sync.Mutex
	calls map[string]*models.DeferredToolCall // keyed by call_id
}

// NewDeferredCallTracker returns an empty tracker.
func NewDeferredCallTracker() *DeferredCallTracker {
	return &DeferredCallTracker{calls: make(map[string]*models.DeferredToolCall)}
}

// Register records a new pending deferred call.
func (t *DeferredCallTracker) Register(call *models.DeferredToolCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	call.Status = models.DeferredStatusPending
	t.calls[call.CallID] = call
}

// Resolve applies an approval decision parsed from the steer grammar to
// the matching deferred call, looked up by ApprovalID. Returns false if no
// pending call carries that approval id.
func (t *DeferredCallTracker) Resolve(approvalID, decision, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.calls {
		if c.ApprovalID != approvalID || c.Status != models.DeferredStatusPending {
			continue
		}
		switch decision {
		case "approved":
			c.Status = models.DeferredStatusApproved
		case "denied", "rejected":
			c.Status = models.DeferredStatusDenied
			c.DenialReason = reason
		}
		return true
	}
	return false
}

// ExpirePending marks every still-pending call as timed out; called when a
// configurable expiry elapses.
func (t *DeferredCallTracker) ExpirePending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.calls {
		if c.Status == models.DeferredStatusPending {
			c.Status = models.DeferredStatusTimedOut
		}
	}
}

// DrainResolved removes and returns every call that has left the Pending
// state, for replay into the conversation.
func (t *DeferredCallTracker) DrainResolved() []*models.DeferredToolCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	var resolved []*models.DeferredToolCall
	for id, c := range t.calls {
		if c.Status != models.DeferredStatusPending {
			resolved = append(resolved, c)
			delete(t.calls, id)
		}
	}
	return resolved
}

// DescribeOutcome renders the system message content spec §4.1 step 1
// requires for a resolved deferred call: a human-readable description of
// success/failure/denial/timeout, middle-truncated to maxBytes.
func DescribeOutcome(c *models.DeferredToolCall, maxBytes int) string {
	var msg string
	switch c.Status {
	case models.DeferredStatusApproved:
		msg = fmt.Sprintf("Tool call %s (%s) was approved and will now execute.", c.CallID, c.ToolName)
	case models.DeferredStatusDenied:
		reason := c.DenialReason
		if reason == "" {
			reason = "no reason given"
		}
		msg = fmt.Sprintf("Tool call %s (%s) was denied: %s", c.CallID, c.ToolName, reason)
	case models.DeferredStatusTimedOut:
		msg = fmt.Sprintf("Tool call %s (%s) timed out waiting for approval.", c.CallID, c.ToolName)
	default:
		msg = fmt.Sprintf("Tool call %s (%s) status: %s", c.CallID, c.ToolName, c.Status)
	}
	return contextmgr.MiddleTruncate(msg, maxBytes)
}
