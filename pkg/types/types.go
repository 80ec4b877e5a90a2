// Package types holds the data model shared across the fleet control plane:
// provisioning rules, cloud instances and volumes, worker-local container
// records, rollout strategies, and health-check configuration.
package types

import (
	"time"
)

// Provider identifies a supported cloud provider.
type Provider string

const (
	ProviderAWS     Provider = "aws"
	ProviderVultr   Provider = "vultr"
	ProviderHetzner Provider = "hetzner"
)

// Rule is a desired-state row: an exact instance count for a (provider, region) pair.
// The tuple (Provider, Region) is unique within a rule set.
type Rule struct {
	Provider      Provider
	Region        string // canonical region token, e.g. "Frankfurt"
	DesiredCount  int
}

// InstanceState is the lifecycle state of a provisioned compute instance.
type InstanceState string

const (
	InstanceStatePending     InstanceState = "pending"
	InstanceStateRunning     InstanceState = "running"
	InstanceStateTerminating InstanceState = "terminating"
	InstanceStateGone        InstanceState = "gone"
)

// Instance is a cloud-provisioned compute unit. Identity is (Provider, ID).
type Instance struct {
	ID         string
	Provider   Provider
	Region     string // canonical region token
	VCPU       int
	MemoryMB   int64
	BootVolume string
	State      InstanceState
	CreatedAt  time.Time
}

// VolumeTier is the storage performance tier of a Volume.
type VolumeTier string

const (
	VolumeTierStandard VolumeTier = "standard"
	VolumeTierSSD      VolumeTier = "ssd"
	VolumeTierNVMe     VolumeTier = "nvme"
)

// Volume is persistent block storage, created and destroyed independently of
// the Instance it may be attached to.
type Volume struct {
	ID         string
	Provider   Provider
	SizeGB     int
	Tier       VolumeTier
	Type       string
	AttachedTo *string // instance ID, nil when detached
	CreatedAt  time.Time
}

// ContainerState is the observed runtime state of a ContainerRecord.
type ContainerState string

const (
	ContainerStateCreated ContainerState = "created"
	ContainerStateRunning ContainerState = "running"
	ContainerStateDead    ContainerState = "dead"
	ContainerStateRemoved ContainerState = "removed"
)

// CreateOptions captures the parameters the Supervisor needs to recreate a
// container after a failed restart, without depending on the runtime package.
type CreateOptions struct {
	Image string
	Env   []string
}

// ContainerConfig is the worker-local record of how a container was declared.
// The Supervisor keeps this alongside ContainerRecord so a recreate doesn't
// need to consult an external service.
type ContainerConfig struct {
	CreateOptions CreateOptions
	VersionTag    string
}

// ContainerRecord is a worker-local view of a runtime container. The runtime
// itself is the source of truth for State; the Supervisor owns mutation of
// HealAttempts.
type ContainerRecord struct {
	ID           string
	Name         string
	Image        string
	State        ContainerState
	VersionTag   string
	HealAttempts int
	Config       ContainerConfig
	CreatedAt    time.Time
}

// HealingEventKind enumerates the outcomes the Supervisor can emit.
type HealingEventKind string

const (
	HealingEventRestarted          HealingEventKind = "restarted"
	HealingEventRecreated          HealingEventKind = "recreated"
	HealingEventSkippedMaxAttempts HealingEventKind = "skipped_max_attempts"
)

// HealingEvent is an append-only record of a single healing outcome.
type HealingEvent struct {
	ContainerID string
	Timestamp   time.Time
	Kind        HealingEventKind
}

// RolloutStrategyType discriminates the RolloutStrategy union.
type RolloutStrategyType int

const (
	RolloutStrategyBlueGreen RolloutStrategyType = iota
	RolloutStrategyLinear
	RolloutStrategyExponential
)

// RolloutStrategy is a tagged union describing how a rollout advances a
// container population from one version to another.
type RolloutStrategy struct {
	Type RolloutStrategyType

	// BlueGreen fields
	ActiveVersion string

	// Linear fields
	Steps          int
	IntervalSecond int

	// Exponential fields
	InitialPercentage int
}

// HealthCheckType is the transport-level protocol a HealthCheckConfig probes.
type HealthCheckType string

const (
	HealthCheckTypeHTTP  HealthCheckType = "HTTP"
	HealthCheckTypeHTTPS HealthCheckType = "HTTPS"
	HealthCheckTypeTCP   HealthCheckType = "TCP"
)

// AssertionKind discriminates the optional content assertion on a
// HealthCheckConfig.
type AssertionKind string

const (
	AssertionJSONValueExists      AssertionKind = "json_value_exists"
	AssertionResponseContainsStr  AssertionKind = "response_contains_string"
	AssertionResponseStatus       AssertionKind = "response_status"
)

// Assertion is a tagged union of the content checks a health probe may apply
// in place of the protocol-native outcome: when an HTTP check sets one, the
// default 2xx status test is not applied.
type Assertion struct {
	Kind AssertionKind

	// JSONValueExists fields
	JSONPath      string
	ExpectedValue any

	// ResponseContainsString fields
	Substring string

	// ResponseStatus fields
	AllowedCodes []int
}

// HealthCheckConfig describes one periodic probe task.
type HealthCheckConfig struct {
	Path          string // unique key in the relational store
	Port          int
	Method        string
	TLSSkip       bool
	GracePeriodMs int64
	IntervalMs    int64 // must be >= 10_000
	TimeoutMs     int64 // must be <= IntervalMs
	MaxFailures   int
	Type          HealthCheckType
	Headers       map[string]string
	Custom        *Assertion // nil means "protocol-native outcome"
}

// Validate checks the invariants declared for HealthCheckConfig.
func (c HealthCheckConfig) Validate() error {
	if c.IntervalMs < 10_000 {
		return ErrIntervalTooShort
	}
	if c.TimeoutMs > c.IntervalMs {
		return ErrTimeoutExceedsInterval
	}
	return nil
}

// WorkerLiveness is the keyed entry a Health-Check Scheduler task writes into
// the shared liveness store.
type WorkerLiveness struct {
	Available       bool
	LastHealthCheck time.Time
}
