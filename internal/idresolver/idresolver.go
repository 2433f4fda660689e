// Package idresolver implements the deterministic source-id collision
// resolver.
package idresolver

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Reserved is the set of public ids no source may claim.
var Reserved = map[string]bool{
	"_": true, "catalog": true, "config": true, "font": true,
	"health": true, "help": true, "index": true, "manifest": true,
	"metrics": true, "refresh": true, "reload": true, "sprite": true,
	"status": true,
}

// Resolver maintains the public_id -> signature map and hands out
// collision-free ids. A signature is any comparable fingerprint of the
// thing behind the id (e.g. a file path, or a schema.table string) —
// requesting the same id with the same signature again from the same
// Resolver returns that same id.
type Resolver struct {
	mu   sync.Mutex
	logger *zap.Logger
	used map[string]string // public id -> signature
}

// New creates an empty Resolver.
func New(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger, used: make(map[string]string)}
}

// Resolve returns requested unchanged if it is free or already mapped to
// signature; otherwise it appends ".1", ".2", ... until a free slot is
// found, warning on every rename. A requested id equal (case-sensitive)
// to a reserved keyword is never returned as-is — it always gets ".1"
// appended at minimum, deterministically.
func (r *Resolver) Resolve(requested, signature string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidate := requested
	if Reserved[candidate] {
		candidate = requested + ".1"
	}

	for {
		if existing, ok := r.used[candidate]; ok {
			if existing == signature {
				return candidate
			}
			// Collision with a different source at this id: try the
			// next deterministic suffix.
		} else if !Reserved[candidate] {
			r.used[candidate] = signature
			if candidate != requested {
				r.logger.Warn("source id renamed to avoid collision",
					zap.String("requested", requested), zap.String("assigned", candidate))
			}
			return candidate
		}
		candidate = nextSuffix(requested, candidate)
	}
}

// nextSuffix computes the next ".N" suffix to try, starting from base
// (the originally requested id) given the last candidate tried.
func nextSuffix(base, lastCandidate string) string {
	n := 1
	if lastCandidate != base {
		// lastCandidate is "base.k" (or "base.1" coming from the
		// reserved-keyword bump) — parse k and advance.
		var k int
		suffix := lastCandidate[len(base):]
		if _, err := fmt.Sscanf(suffix, ".%d", &k); err == nil {
			n = k + 1
		}
	}
	return fmt.Sprintf("%s.%d", base, n)
}

// Release frees a previously resolved id, used when a Registry is being
// rebuilt. Reconfiguration produces a brand-new Resolver per new Registry
// in practice, but Release supports incremental reload of a single source.
func (r *Resolver) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.used, id)
}
