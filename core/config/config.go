// Package config defines the kernel's versioned configuration snapshots:
// per-tenant gate thresholds, the relation-confidence threshold, the
// resume-buffer expiry window, and the optional-assist ceilings the budget
// governor adjusts. Snapshots are immutable once loaded; the kernel swaps
// whole snapshots, never fields.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/viper"

	"github.com/SeleneOSv1/Selene-OS-sub006/core/gates"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/governor"
)

// AssistBudget is the optional-assist ceiling set consumed by the budget
// gate. Each disabled engine removes a full advisory slot from the call
// ceiling; each degraded engine removes half of one, rounded against the
// engine.
type AssistBudget struct {
	MaxCalls   int           `mapstructure:"max_calls"`
	MaxLatency time.Duration `mapstructure:"max_latency"`
	Degraded   []string      `mapstructure:"degraded"`
	Disabled   []string      `mapstructure:"disabled"`
}

// EffectiveMaxCalls folds the review lists into the call ceiling.
func (b AssistBudget) EffectiveMaxCalls() int {
	calls := b.MaxCalls - len(b.Disabled) - (len(b.Degraded)+1)/2
	if calls < 0 {
		return 0
	}
	return calls
}

// TenantOverrides narrows gate limits for one tenant.
type TenantOverrides struct {
	ConfidenceFloor *float64      `mapstructure:"confidence_floor"`
	Assist          *AssistBudget `mapstructure:"assist"`
}

// Snapshot is one versioned, reference-able configuration state.
type Snapshot struct {
	Version string `mapstructure:"version"`

	ConfidenceFloor             float64       `mapstructure:"confidence_floor"`
	RelationConfidenceThreshold float64       `mapstructure:"relation_confidence_threshold"`
	ResumeBufferTTL             time.Duration `mapstructure:"resume_buffer_ttl"`

	Assist  AssistBudget               `mapstructure:"assist"`
	Tenants map[string]TenantOverrides `mapstructure:"tenants"`
}

// Default returns the built-in snapshot used when no file is supplied.
func Default() Snapshot {
	return Snapshot{
		Version:                     "builtin",
		ConfidenceFloor:             0.80,
		RelationConfidenceThreshold: 0.75,
		ResumeBufferTTL:             2 * time.Minute,
		Assist: AssistBudget{
			MaxCalls:   3,
			MaxLatency: 40 * time.Millisecond,
		},
	}
}

// Load reads a snapshot from a YAML file, layered over Default.
func Load(path string) (Snapshot, error) {
	defaults := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("version", defaults.Version)
	v.SetDefault("confidence_floor", defaults.ConfidenceFloor)
	v.SetDefault("relation_confidence_threshold", defaults.RelationConfidenceThreshold)
	v.SetDefault("resume_buffer_ttl", defaults.ResumeBufferTTL)
	v.SetDefault("assist.max_calls", defaults.Assist.MaxCalls)
	v.SetDefault("assist.max_latency", defaults.Assist.MaxLatency)

	if err := v.ReadInConfig(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read config snapshot %q: %w", path, err)
	}

	var snapshot Snapshot
	if err := v.Unmarshal(&snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode config snapshot %q: %w", path, err)
	}
	return snapshot, nil
}

// GateLimits resolves the evaluator limits for a tenant. The governor's
// review lists apply snapshot-wide: a tenant override narrows the base
// ceilings but degraded and disabled engines tighten them for everyone.
func (s Snapshot) GateLimits(tenantID string) gates.Limits {
	assist := s.Assist

	overrides, ok := s.Tenants[tenantID]
	if ok && overrides.Assist != nil {
		assist.MaxCalls = overrides.Assist.MaxCalls
		assist.MaxLatency = overrides.Assist.MaxLatency
	}

	limits := gates.Limits{
		ConfidenceFloor:    s.ConfidenceFloor,
		MaxAdvisoryCalls:   assist.EffectiveMaxCalls(),
		MaxAdvisoryLatency: assist.MaxLatency,
	}
	if ok && overrides.ConfidenceFloor != nil {
		limits.ConfidenceFloor = *overrides.ConfidenceFloor
	}
	return limits
}

// ApplyReview returns a new snapshot with the governor's window outcome
// folded into the assist ceilings. Core gate settings are untouched: the
// review only ever narrows advisory capacity.
func (s Snapshot) ApplyReview(version string, actions map[string]governor.Action) Snapshot {
	next := s
	next.Version = version

	degraded := map[string]bool{}
	disabled := map[string]bool{}
	for _, engine := range s.Assist.Degraded {
		degraded[engine] = true
	}
	for _, engine := range s.Assist.Disabled {
		disabled[engine] = true
	}

	for engine, action := range actions {
		switch action {
		case governor.ActionKeep:
			delete(degraded, engine)
			delete(disabled, engine)
		case governor.ActionDegrade:
			degraded[engine] = true
			delete(disabled, engine)
		case governor.ActionDisableCandidate:
			disabled[engine] = true
			delete(degraded, engine)
		}
	}

	next.Assist.Degraded = sortedKeys(degraded)
	next.Assist.Disabled = sortedKeys(disabled)
	return next
}

// EngineAllowed reports whether an advisory engine may run at all under
// this snapshot.
func (s Snapshot) EngineAllowed(engineID string) bool {
	for _, disabled := range s.Assist.Disabled {
		if disabled == engineID {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
