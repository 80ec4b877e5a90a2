// Package provider exposes a uniform capability set over heterogeneous
// cloud APIs. The Fleet Reconciler depends only on the Provider interface;
// concrete adapters translate canonical region tokens and wrap provider-
// native failure modes into the taxonomy in errors.go.
package provider

import (
	"context"

	"github.com/cuemby/fleetcore/pkg/types"
)

// Plan describes the requested shape of a new Instance. Fields are
// provider-agnostic; adapters map Plan to their own SKU/server-type naming.
type Plan struct {
	VCPU     int
	MemoryMB int64
	Image    string
}

// VolumeAttachOptions carries adapter-specific attach parameters.
type VolumeAttachOptions struct {
	Device string // e.g. "/dev/sdb", provider-specific
}

// VolumeDetachOptions carries adapter-specific detach parameters.
type VolumeDetachOptions struct {
	Force bool
}

// Provider is the uniform interface every cloud adapter implements. Partial
// success on List is impossible: either the full page set is returned or the
// call fails.
type Provider interface {
	Name() types.Provider

	ListInstances(ctx context.Context) ([]types.Instance, error)
	CreateInstance(ctx context.Context, region string, plan Plan) (types.Instance, error)
	DestroyInstance(ctx context.Context, id string) error

	ListVolumes(ctx context.Context) ([]types.Volume, error)
	CreateVolume(ctx context.Context, region string, sizeGB int, tier types.VolumeTier) (types.Volume, error)
	DestroyVolume(ctx context.Context, id string) error
	AttachVolume(ctx context.Context, volumeID, instanceID string, opts VolumeAttachOptions) error
	DetachVolume(ctx context.Context, volumeID string, opts VolumeDetachOptions) error
	ResizeVolume(ctx context.Context, volumeID string, newSizeGB int, newTier *types.VolumeTier) error
}
