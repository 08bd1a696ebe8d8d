// Package worker implements the task worker runtime: the poll/claim loop
// and the preflight -> prepare -> execute -> publish -> finalize staged
// executor for a single claimed task job. The heartbeat renewer, captured
// child-process I/O, and the stage driver run as a small cooperating set
// of goroutines sharing one context.Context, in the "coroutine control-
// flow" shape the runtime's docs describe, grounded on prow/pod-utils's
// clonerefs -> entrypoint -> sidecar pipeline reshaped onto direct
// subprocess execution instead of Pod spec generation.
package worker

import (
	"time"

	"github.com/moonward/moonward/internal/queue"
)

const (
	StagePreflight = "preflight"
	StagePrepare   = "prepare"
	StageExecute   = "execute"
	StagePublish   = "publish"
	StageFinalize  = "finalize"
)

func stageEventName(stage string) string {
	return "moonmind.task." + stage
}

// Config configures one long-running worker process.
type Config struct {
	WorkerID               string
	AdvertisedCapabilities []string
	AllowedTypes           []queue.Type
	AllowedRepositories    []string
	WorkDir                string
	CacheRoot              string
	LeaseTTL                time.Duration
	HeartbeatInterval       time.Duration
	PollInterval            time.Duration
	GitBinary               string
	PRBinary                string
}

// heartbeatInterval defaults to one quarter of the lease TTL (15s against
// the 60s default lease TTL), so a lease survives a missed beat or two.
func (c Config) heartbeatInterval() time.Duration {
	if c.HeartbeatInterval > 0 {
		return c.HeartbeatInterval
	}
	return c.leaseTTL() / 4
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 2 * time.Second
}

func (c Config) leaseTTL() time.Duration {
	if c.LeaseTTL > 0 {
		return c.LeaseTTL
	}
	return 60 * time.Second
}
