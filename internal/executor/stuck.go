package executor

import (
	"fmt"

	"github.com/restflow/restflow/pkg/models"
)

// StuckAction is what the detector does once a repeated-call threshold
// fires.
type StuckAction string

const (
	StuckActionNudge StuckAction = "nudge"
	StuckActionStop  StuckAction = "stop"
)

// StuckDetector records every (tool_name, arg_hash) pair the run makes and
// fires once the same pair repeats at least Threshold times, catching an
// agent looping on an unproductive tool call.
type StuckDetector struct {
	Threshold int
	Action    StuckAction

	counts map[string]int
	names  map[string]string
}

// NewStuckDetector returns a detector configured from cfg. A nil or
// disabled cfg yields a detector whose Record/Check always report no
// repetition.
func NewStuckDetector(cfg *models.StuckDetectionConfig) *StuckDetector {
	d := &StuckDetector{counts: make(map[string]int), names: make(map[string]string)}
	if cfg != nil && cfg.Enabled {
		d.Threshold = cfg.Threshold
		if cfg.Action == "stop" {
			d.Action = StuckActionStop
		} else {
			d.Action = StuckActionNudge
		}
	}
	return d
}

// Record logs one invocation of toolName with the given argument hash and
// returns the updated repeat count for that pair.
func (d *StuckDetector) Record(toolName, argHash string) int {
	if d.Threshold <= 0 {
		return 0
	}
	key := toolName + "\x00" + argHash
	d.counts[key]++
	d.names[key] = toolName
	return d.counts[key]
}

// Fired reports whether count has crossed the configured threshold.
func (d *StuckDetector) Fired(count int) bool {
	return d.Threshold > 0 && count >= d.Threshold
}

// NudgeMessage is the system note appended when Action is Nudge.
func NudgeMessage(toolName string, count int) string {
	return fmt.Sprintf("You have called '%s' with the same arguments %d times in a row. Try a different tool, different arguments, or reconsider your approach.", toolName, count)
}

// StopError is the terminal error set when Action is Stop.
func StopError(toolName string, count int) error {
	return fmt.Errorf("Agent stuck: repeated '%s' %d times", toolName, count)
}
