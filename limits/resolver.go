package limits

import (
	"github.com/yairfalse/snapkeep/types"
)

// DefaultLimit applies when neither configuration nor overrides set one
const DefaultLimit = 4

// ResolveLimit returns the override for instanceID, or def when there is none
func ResolveLimit(instanceID string, overrides map[string]int, def int) int {
	if limit, ok := overrides[instanceID]; ok {
		return limit
	}
	return def
}

// Resolver maps instance IDs to retention limits. It is built once per run.
type Resolver struct {
	def       int
	overrides map[string]int
}

// NewResolver validates the default and every override value
func NewResolver(def int, overrides map[string]int) (*Resolver, error) {
	if def < 0 {
		return nil, types.NewConfigError("default_limit", "must be a non-negative integer, got %d", def)
	}

	copied := make(map[string]int, len(overrides))
	for id, limit := range overrides {
		if limit < 0 {
			return nil, types.NewConfigError("overrides", "%s: limit %d is negative", id, limit)
		}
		copied[id] = limit
	}

	return &Resolver{def: def, overrides: copied}, nil
}

// Merge combines override sources. Earlier sources win on conflicting IDs.
func Merge(sources ...map[string]int) map[string]int {
	merged := make(map[string]int)
	for _, src := range sources {
		for id, limit := range src {
			if _, exists := merged[id]; !exists {
				merged[id] = limit
			}
		}
	}
	return merged
}

// Limit resolves the retention limit for an instance
func (r *Resolver) Limit(instanceID string) int {
	return ResolveLimit(instanceID, r.overrides, r.def)
}

// Default returns the process-wide fallback
func (r *Resolver) Default() int { return r.def }

// Overridden reports whether instanceID has an explicit limit
func (r *Resolver) Overridden(instanceID string) bool {
	_, ok := r.overrides[instanceID]
	return ok
}
