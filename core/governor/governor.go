// Package governor implements the optional-assist budget governor: a batch
// reviewer that scores advisory engines by utility and latency cost and
// feeds keep/degrade/disable signals back into the gate evaluator's
// per-turn budget ceilings. It never touches the core gates.
package governor

import (
	"sync"
	"time"
)

// Action is the review outcome for one engine in one window.
type Action string

const (
	ActionKeep             Action = "keep"
	ActionDegrade          Action = "degrade"
	ActionDisableCandidate Action = "disable_candidate"
)

// Review thresholds. An engine keeps its budget when it shifts decisions
// often enough, rarely produces nothing, and stays cheap at the tail.
const (
	MinDecisionDeltaRate   = 0.08
	MinQueueConversionRate = 0.20
	MaxNoValueRate         = 0.60
	MaxP95LatencyCost      = 20 * time.Millisecond
	MaxP99LatencyCost      = 40 * time.Millisecond

	// DisableAfterWindows is how many consecutive failing review windows it
	// takes before an engine escalates from degrade to disable-candidate.
	DisableAfterWindows = 7
)

// Sample is one engine's utility measurement for a review window. Samples
// are produced by telemetry collection outside the kernel and superseded
// each window.
type Sample struct {
	EngineID            string
	WindowStart         time.Time
	DecisionDeltaRate   float64
	QueueConversionRate float64
	NoValueRate         float64
	P95LatencyCost      time.Duration
	P99LatencyCost      time.Duration
}

// passing applies the deterministic keep criteria.
func (s Sample) passing() bool {
	if s.DecisionDeltaRate < MinDecisionDeltaRate && s.QueueConversionRate < MinQueueConversionRate {
		return false
	}
	if s.NoValueRate > MaxNoValueRate {
		return false
	}
	return s.P95LatencyCost <= MaxP95LatencyCost && s.P99LatencyCost <= MaxP99LatencyCost
}

// Governor tracks consecutive failing windows per engine across reviews.
type Governor struct {
	mu           sync.Mutex
	streaks      map[string]int
	disableAfter int
}

type Option func(*Governor)

// WithDisableAfter overrides the escalation streak, for tests.
func WithDisableAfter(windows int) Option {
	return func(g *Governor) { g.disableAfter = windows }
}

func New(opts ...Option) *Governor {
	g := &Governor{
		streaks:      map[string]int{},
		disableAfter: DisableAfterWindows,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Review scores one window of samples and returns the action per engine.
func (g *Governor) Review(samples []Sample) map[string]Action {
	g.mu.Lock()
	defer g.mu.Unlock()

	actions := make(map[string]Action, len(samples))
	for _, sample := range samples {
		if sample.EngineID == "" {
			continue
		}
		if sample.passing() {
			g.streaks[sample.EngineID] = 0
			actions[sample.EngineID] = ActionKeep
			continue
		}

		g.streaks[sample.EngineID]++
		if g.streaks[sample.EngineID] >= g.disableAfter {
			actions[sample.EngineID] = ActionDisableCandidate
		} else {
			actions[sample.EngineID] = ActionDegrade
		}
	}
	return actions
}

// Streak reports the current failing streak for an engine.
func (g *Governor) Streak(engineID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.streaks[engineID]
}
