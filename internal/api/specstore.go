package api

import (
	"sync"

	"github.com/yawlcore/engine/internal/engineerr"
	"github.com/yawlcore/engine/internal/spec"
)

// SpecStore owns every specification Interface A has loaded. It
// implements registry.SpecLookup directly, so internal/registry can
// resolve a spec-id at Admit time without importing this package.
// Grounded on the same map-plus-RWMutex registry shape
// internal/registry and internal/announcer already use for their own
// live-object sets.
type SpecStore struct {
	mu    sync.RWMutex
	specs map[string]*spec.Specification // keyed by SpecID.String()
}

func NewSpecStore() *SpecStore {
	return &SpecStore{specs: map[string]*spec.Specification{}}
}

// Get implements registry.SpecLookup.
func (s *SpecStore) Get(id spec.SpecID) (*spec.Specification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.specs[id.String()]
	return sp, ok
}

// Load parses and validates a YAWL XML document, rejecting it on any
// fatal diagnostic, then registers it under its own SpecID. Returns the
// full diagnostic list either way (spec.md §6: "returns... a structured
// validation-failure list").
func (s *SpecStore) Load(doc []byte) (spec.SpecID, []spec.Diagnostic, error) {
	parsed, diags, err := spec.LoadXML(doc)
	if err != nil {
		return spec.SpecID{}, nil, err
	}
	if hasFatal(diags) {
		return spec.SpecID{}, diags, engineerr.Validation("specification failed validation", diags...)
	}

	s.mu.Lock()
	s.specs[parsed.ID.String()] = parsed
	s.mu.Unlock()

	return parsed.ID, diags, nil
}

// Unload removes a loaded specification. activeCaseCheck reports whether
// any case is still active for this spec-id; Unload refuses when it does
// (spec.md §6: "rejected if any case is still active for that spec-id").
func (s *SpecStore) Unload(id spec.SpecID, activeCaseCheck func(spec.SpecID) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.specs[id.String()]; !ok {
		return engineerr.NotFound("specification", id.String())
	}
	if activeCaseCheck != nil && activeCaseCheck(id) {
		return engineerr.Conflict("specification " + id.String() + " still has active cases")
	}
	delete(s.specs, id.String())
	return nil
}

// List returns every currently loaded specification's id, for
// GET /a/specifications.
func (s *SpecStore) List() []spec.SpecID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]spec.SpecID, 0, len(s.specs))
	for _, sp := range s.specs {
		ids = append(ids, sp.ID)
	}
	return ids
}

func hasFatal(diags []spec.Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == "fatal" {
			return true
		}
	}
	return false
}
