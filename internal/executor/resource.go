package executor

import (
	"time"

	"github.com/restflow/restflow/pkg/models"
)

// ResourceTracker accumulates wall-clock time and spend for a single run
// and reports whether either configured limit has been exceeded. The
// executor consults it at loop boundaries (before the LLM call and before
// tool fan-out), never mid-call.
type ResourceTracker struct {
	startedAt time.Time
	costUSD   float64
	limits    models.ResourceLimits
}

// NewResourceTracker starts a tracker against limits, with startedAt as the
// run's clock origin.
func NewResourceTracker(limits *models.ResourceLimits, startedAt time.Time) *ResourceTracker {
	t := &ResourceTracker{startedAt: startedAt}
	if limits != nil {
		t.limits = *limits
	}
	return t
}

// AddCost accumulates spend reported by an LLM completion's usage.
func (t *ResourceTracker) AddCost(usd float64) {
	t.costUSD += usd
}

// Exceeded reports whether either the wall-clock or cost budget has been
// breached as of now, and a human-readable reason if so.
func (t *ResourceTracker) Exceeded(now time.Time) (bool, string) {
	if t.limits.MaxWallTime > 0 && now.Sub(t.startedAt) > t.limits.MaxWallTime {
		return true, "wall-clock budget exceeded"
	}
	if t.limits.MaxCostUSD > 0 && t.costUSD > t.limits.MaxCostUSD {
		return true, "cost budget exceeded"
	}
	return false, ""
}
