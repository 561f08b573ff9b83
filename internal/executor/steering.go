package executor

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/restflow/restflow/pkg/models"
)

// approvalGrammar matches the steer-message approval command spec §6
// requires: "approval <id> (approved|denied|rejected) [reason]".
var approvalGrammar = regexp.MustCompile(`^approval\s+(\S+)\s+(approved|denied|rejected)(?:\s+(.*))?$`)

// SteerQueue is a single-producer/multi-consumer buffered channel owned by
// the executor, matching spec §3's SteerMessage delivery model. Grounded
// on the teacher's internal/agent/steering.go SteeringQueue, replacing its
// channel-message-specific FollowUp/SteeringMode plumbing with spec's
// Message/Interrupt/CancelToolCall command union.
type SteerQueue struct {
	mu      sync.Mutex
	pending []models.SteerMessage
	// carryover holds steer messages that arrived during a previous tool
	// fan-out drain; spec §4.1 step 1 requires these survive into the next
	// iteration's apply-pending-inputs pass.
	carryover []models.SteerMessage
}

// NewSteerQueue returns an empty queue.
func NewSteerQueue() *SteerQueue {
	return &SteerQueue{}
}

// Send enqueues a steer message from an external producer. Safe to call
// concurrently with the executor's own Drain.
func (q *SteerQueue) Send(msg models.SteerMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
}

// Drain returns and clears every pending message, including any carried
// over from a mid-tool-fanout arrival, in FIFO order (carryover first).
func (q *SteerQueue) Drain() []models.SteerMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := append(q.carryover, q.pending...)
	q.carryover = nil
	q.pending = nil
	return out
}

// BufferDuringToolFanout records a steer message that arrived while tool
// results were still draining, so only CancelToolCall is handled
// immediately (via DrainCancelOnly) and everything else is replayed on the
// next iteration's Drain.
func (q *SteerQueue) BufferDuringToolFanout(msg models.SteerMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.carryover = append(q.carryover, msg)
}

// DrainCancelOnly is the non-blocking poll run between each tool result
// during fan-out (spec §4.1 step 8): only CancelToolCall commands are
// acted on immediately; everything else is buffered for the next
// iteration via BufferDuringToolFanout.
func (q *SteerQueue) DrainCancelOnly() []models.SteerMessage {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	var cancels []models.SteerMessage
	for _, m := range pending {
		if m.Command.Kind == models.SteerCommandCancelToolCall {
			cancels = append(cancels, m)
		} else {
			q.BufferDuringToolFanout(m)
		}
	}
	return cancels
}

// ParseApprovalCommand matches a Message-command instruction against the
// approval grammar. ok is false if the instruction is not an approval
// command, in which case the caller should treat it as a plain
// "[User Update]:"-prefixed note per spec §4.1 step 1.
func ParseApprovalCommand(instruction string) (id string, decision string, reason string, ok bool) {
	m := approvalGrammar.FindStringSubmatch(instruction)
	if m == nil {
		return "", "", "", false
	}
	return m[1], m[2], m[3], true
}

// UserUpdateNote formats a plain steer instruction as the user-role note
// the loop injects when it is not an approval command.
func UserUpdateNote(instruction string) string {
	return fmt.Sprintf("[User Update]: %s", instruction)
}
