package skills

import (
	"sort"
	"sync"
)

// Registry holds the set of known skill bundles, keyed by (name, version),
// the way boskos/mason.Mason holds its configConverters map: a simple
// mutex-guarded lookup table populated at startup and mutated rarely, if
// ever, after that.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]RegistryEntry // key: Name@Version
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]RegistryEntry{}}
}

// Put registers or replaces an entry.
func (r *Registry) Put(e RegistryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Key()] = e
}

// Get returns the entry for (name, version). When version is empty, the
// enabled entry for name whose Version sorts last as a plain string is
// returned; versions are not compared as semantic versions.
func (r *Registry) Get(name, version string) (RegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if version != "" {
		e, ok := r.entries[name+"@"+version]
		if !ok {
			return RegistryEntry{}, &NotFoundError{Name: name, Version: version}
		}
		return e, nil
	}

	var candidates []RegistryEntry
	for _, e := range r.entries {
		if e.Name == name && e.Enabled {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return RegistryEntry{}, &NotFoundError{Name: name}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Version > candidates[j].Version })
	return candidates[0], nil
}

// List returns every registered entry, sorted by (name, version).
func (r *Registry) List() []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// Profile names the resolution precedence inputs below a job-level
// override: a queue-configured default profile, then the global allowlist.
type Profile struct {
	DefaultSelections []Selection
	PolicyMode        PolicyMode
	Allowlist         []string
}

// Resolve applies the job-level-override -> queue-profile -> global-default
// precedence, returning the final selection list for a run. jobLevel being
// non-empty always wins outright; an empty jobLevel falls back to the
// profile's configured defaults.
func Resolve(jobLevel []Selection, profile Profile) []Selection {
	if len(jobLevel) > 0 {
		return jobLevel
	}
	return profile.DefaultSelections
}

// CheckAllowlist enforces the profile's policy mode against a selection
// list, returning the first violation found, if any.
func CheckAllowlist(selections []Selection, profile Profile) error {
	if profile.PolicyMode != PolicyAllowlist {
		return nil
	}
	allowed := map[string]bool{}
	for _, n := range profile.Allowlist {
		allowed[n] = true
	}
	for _, s := range selections {
		if !allowed[s.Name] {
			return &NotAllowlistedError{Name: s.Name}
		}
	}
	return nil
}

// CheckUniqueNames enforces the "two selected skills sharing a name is a
// failure" invariant.
func CheckUniqueNames(selections []Selection) error {
	seen := map[string]bool{}
	for _, s := range selections {
		if seen[s.Name] {
			return &DuplicateNameError{Name: s.Name}
		}
		seen[s.Name] = true
	}
	return nil
}
