package skills

import "fmt"

// MaterializeError names the offending skill and the phase it failed in, so
// callers can report an actionable lastError without re-deriving context
// from a wrapped generic error.
type MaterializeError struct {
	Skill string
	Phase Phase
	Err   error
}

func (e *MaterializeError) Error() string {
	return fmt.Sprintf("skill %s: %s failed: %v", e.Skill, e.Phase, e.Err)
}

func (e *MaterializeError) Unwrap() error { return e.Err }

// DuplicateNameError is returned when two selections in the same run share
// a skill_name.
type DuplicateNameError struct{ Name string }

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate skill name %q in run selection", e.Name)
}

// NotAllowlistedError is returned in allowlist policy mode for a skill not
// on the configured allowlist.
type NotAllowlistedError struct{ Name string }

func (e *NotAllowlistedError) Error() string {
	return fmt.Sprintf("skill %q is not in the configured allowlist", e.Name)
}

// DisabledEntryError is returned when a selection resolves to a registry
// entry marked disabled.
type DisabledEntryError struct{ Name, Version string }

func (e *DisabledEntryError) Error() string {
	return fmt.Sprintf("skill %s@%s is disabled", e.Name, e.Version)
}

// NotFoundError is returned when a selection names no known registry entry.
type NotFoundError struct{ Name, Version string }

func (e *NotFoundError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("no registry entry for skill %q", e.Name)
	}
	return fmt.Sprintf("no registry entry for skill %s@%s", e.Name, e.Version)
}

// IntegrityError is returned when a fetched bundle's hash does not match
// the registry's declared contentHash.
type IntegrityError struct {
	Name, Version       string
	Want, Got           string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("skill %s@%s: content hash mismatch, want %s got %s", e.Name, e.Version, e.Want, e.Got)
}

// SignatureError is returned when a registry entry configures a signature
// and it fails to verify, or no SignatureVerifier is wired to check it.
type SignatureError struct {
	Name, Version string
	Reason        string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("skill %s@%s: signature verification failed: %s", e.Name, e.Version, e.Reason)
}
