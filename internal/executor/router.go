package executor

import "github.com/restflow/restflow/pkg/models"

// ModelTier classifies the complexity a task appears to need, driving an
// optional swap to a cheaper or stronger model mid-run.
type ModelTier string

const (
	TierLight  ModelTier = "light"
	TierStandard ModelTier = "standard"
	TierHeavy  ModelTier = "heavy"
)

// ModelRoute maps a ModelTier to the provider model name to request.
type ModelRoute map[ModelTier]string

// RouterConfig enables optional per-iteration model routing.
type RouterConfig struct {
	Enabled           bool
	Route             ModelRoute
	EscalateOnFailure bool
	HeavyToolNames    []string // tool names that always classify as heavy
}

// ClassifyTier inspects recent tool names, the latest message content, and
// the current iteration count to pick a tier. A prior tool-call failure
// escalates to heavy when EscalateOnFailure is set, so a routing-enabled
// run doesn't keep retrying a hard step on a weak model.
func ClassifyTier(cfg RouterConfig, recentToolNames []string, latest models.Message, iteration int, lastToolFailed bool) ModelTier {
	if cfg.EscalateOnFailure && lastToolFailed {
		return TierHeavy
	}
	for _, name := range recentToolNames {
		for _, heavy := range cfg.HeavyToolNames {
			if name == heavy {
				return TierHeavy
			}
		}
	}
	if iteration > 5 {
		return TierStandard
	}
	return TierLight
}

// ResolveModel returns the model name cfg.Route maps tier to, falling back
// to current if the tier has no mapping.
func ResolveModel(cfg RouterConfig, tier ModelTier, current string) string {
	if !cfg.Enabled {
		return current
	}
	if model, ok := cfg.Route[tier]; ok && model != "" {
		return model
	}
	return current
}
