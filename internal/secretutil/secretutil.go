// Package secretutil resolves credential references used throughout job
// payloads and worker configuration, and keeps a registry of resolved secret
// values so they can be stripped out of anything written to events, logs, or
// artifacts.
//
// A Reference names a credential without embedding it: {kind, key}. kind is
// "profile" (a named credential profile managed by the operator), "env" (an
// environment variable), or "file" (a path to a single-token file, reloaded
// on change). Each Reference is resolved only through its own kind: there is
// no profile -> environment fallback, and a missing value is an error.
package secretutil

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Reference names a credential without carrying its value.
type Reference struct {
	Kind string `json:"kind"` // "profile" | "env" | "file"
	Key  string `json:"key"`
}

func (r Reference) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.Key)
}

// Resolver resolves References to values from operator-configured profiles,
// the environment, or secret files, according to each Reference's kind.
type Resolver struct {
	mu       sync.RWMutex
	profiles map[string]string
}

// NewResolver builds a Resolver seeded with the given named profiles.
func NewResolver(profiles map[string]string) *Resolver {
	r := &Resolver{profiles: map[string]string{}}
	for k, v := range profiles {
		r.profiles[k] = v
	}
	return r
}

// SetProfiles replaces the profile table, e.g. after a config hot-reload.
func (r *Resolver) SetProfiles(profiles map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles = map[string]string{}
	for k, v := range profiles {
		r.profiles[k] = v
	}
}

// Resolve looks up a Reference's value. Profile lookups never fall through
// to the environment: an unknown profile key is always an error, so that a
// missing profile cannot be silently satisfied by an unrelated environment
// variable of the same name.
func (r *Resolver) Resolve(ref Reference) (string, error) {
	switch ref.Kind {
	case "profile":
		r.mu.RLock()
		v, ok := r.profiles[ref.Key]
		r.mu.RUnlock()
		if !ok {
			return "", fmt.Errorf("auth: no profile named %q", ref.Key)
		}
		return v, nil
	case "env":
		v, ok := os.LookupEnv(ref.Key)
		if !ok {
			return "", fmt.Errorf("auth: environment variable %q is not set", ref.Key)
		}
		return v, nil
	case "file":
		v, err := LoadSingleSecret(ref.Key)
		return string(v), err
	default:
		return "", fmt.Errorf("auth: unknown reference kind %q", ref.Kind)
	}
}

// LoadSingleSecret reads a single-token secret file, trimming surrounding
// whitespace and rejecting multi-line content (a common copy-paste mistake
// that truncates tokens).
func LoadSingleSecret(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.ContainsAny(trimmed, "\n\r") {
		return nil, fmt.Errorf("invalid token format in %s: contains a line break", path)
	}
	return []byte(trimmed), nil
}

// Agent watches a set of secret files on disk and keeps their latest
// contents available, reloading on write without requiring a process
// restart.
type Agent struct {
	mu      sync.RWMutex
	secrets map[string][]byte
	watcher *fsnotify.Watcher
}

// NewAgent starts watching the given secret file paths and returns an Agent
// once the initial load has succeeded.
func NewAgent(paths []string) (*Agent, error) {
	a := &Agent{secrets: map[string][]byte{}}
	for _, p := range paths {
		v, err := LoadSingleSecret(p)
		if err != nil {
			return nil, err
		}
		a.secrets[p] = v
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	a.watcher = w

	go a.watch()
	return a, nil
}

func (a *Agent) watch() {
	for event := range a.watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			continue
		}
		v, err := LoadSingleSecret(event.Name)
		if err != nil {
			logrus.WithError(err).WithField("path", event.Name).Warn("failed to reload secret")
			continue
		}
		a.mu.Lock()
		a.secrets[event.Name] = v
		a.mu.Unlock()
	}
}

// GetSecret returns the current value for a watched path.
func (a *Agent) GetSecret(path string) []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.secrets[path]
}

// Stop releases the underlying file watcher.
func (a *Agent) Stop() error {
	if a.watcher == nil {
		return nil
	}
	return a.watcher.Close()
}

// registry is the process-wide set of resolved secret values due for
// redaction from events, logs, and artifacts.
var registry = struct {
	mu     sync.RWMutex
	values map[string]struct{}
}{values: map[string]struct{}{}}

// Register marks a resolved value as sensitive so Redact will strip it.
func Register(value string) {
	if value == "" {
		return
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.values[value] = struct{}{}
}

// Values returns a snapshot of every registered secret value, for wiring
// into logrusutil.NewCensoringFormatter.
func Values() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	out := make([]string, 0, len(registry.values))
	for v := range registry.values {
		out = append(out, v)
	}
	return out
}

// Redact replaces every occurrence of every registered secret in s with
// asterisks of the same length; any other text, including a "kind:key"
// reference, passes through unchanged. Every code path that
// writes to events, logs, or artifacts MUST pass through here first.
func Redact(s string) string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	for v := range registry.values {
		if v == "" {
			continue
		}
		s = strings.ReplaceAll(s, v, strings.Repeat("*", len(v)))
	}
	return s
}
