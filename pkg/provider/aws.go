package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/cuemby/fleetcore/pkg/types"
)

// EC2API is the subset of the EC2 client the adapter depends on, so tests can
// substitute a fake without touching the real AWS SDK.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)

	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	CreateVolume(ctx context.Context, params *ec2.CreateVolumeInput, optFns ...func(*ec2.Options)) (*ec2.CreateVolumeOutput, error)
	DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
	AttachVolume(ctx context.Context, params *ec2.AttachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error)
	DetachVolume(ctx context.Context, params *ec2.DetachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DetachVolumeOutput, error)
	ModifyVolume(ctx context.Context, params *ec2.ModifyVolumeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyVolumeOutput, error)
}

// AWSAdapter implements Provider over EC2. It owns the AWS<->canonical
// region translation and classifies every AWS API error into the taxonomy
// in errors.go so the Fleet Reconciler never inspects AWS-specific types.
type AWSAdapter struct {
	client EC2API
	region *regionTable
}

func NewAWSAdapter(client EC2API) *AWSAdapter {
	return &AWSAdapter{client: client, region: awsRegions}
}

func (a *AWSAdapter) Name() types.Provider { return types.ProviderAWS }

func (a *AWSAdapter) ListInstances(ctx context.Context) ([]types.Instance, error) {
	var out []types.Instance
	var nextToken *string

	for {
		resp, err := a.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: nextToken})
		if err != nil {
			return nil, classifyError("aws", "ListInstances", err)
		}

		for _, reservation := range resp.Reservations {
			for _, inst := range reservation.Instances {
				if inst.State != nil && inst.State.Name == ec2types.InstanceStateNameTerminated {
					continue
				}
				converted, convErr := a.toInstance(inst)
				if convErr != nil {
					return nil, convErr
				}
				out = append(out, converted)
			}
		}

		if resp.NextToken == nil {
			break
		}
		nextToken = resp.NextToken
	}

	return out, nil
}

func (a *AWSAdapter) CreateInstance(ctx context.Context, region string, plan Plan) (types.Instance, error) {
	native, err := a.region.Native(region)
	if err != nil {
		return types.Instance{}, err
	}

	instanceType := instanceTypeFor(plan)
	resp, err := a.client.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:      aws.String(plan.Image),
		InstanceType: instanceType,
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		Placement:    &ec2types.Placement{AvailabilityZone: aws.String(native)},
	})
	if err != nil {
		return types.Instance{}, classifyError("aws", "CreateInstance", err)
	}
	if len(resp.Instances) != 1 {
		return types.Instance{}, &TransientProviderError{Provider: "aws", Op: "CreateInstance", Err: fmt.Errorf("expected 1 instance in response, got %d", len(resp.Instances))}
	}

	return a.toInstance(resp.Instances[0])
}

func (a *AWSAdapter) DestroyInstance(ctx context.Context, id string) error {
	_, err := a.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return classifyError("aws", "DestroyInstance", err)
	}
	return nil
}

func (a *AWSAdapter) ListVolumes(ctx context.Context) ([]types.Volume, error) {
	var out []types.Volume
	var nextToken *string

	for {
		resp, err := a.client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{NextToken: nextToken})
		if err != nil {
			return nil, classifyError("aws", "ListVolumes", err)
		}

		for _, vol := range resp.Volumes {
			out = append(out, a.toVolume(vol))
		}

		if resp.NextToken == nil {
			break
		}
		nextToken = resp.NextToken
	}

	return out, nil
}

func (a *AWSAdapter) CreateVolume(ctx context.Context, region string, sizeGB int, tier types.VolumeTier) (types.Volume, error) {
	native, err := a.region.Native(region)
	if err != nil {
		return types.Volume{}, err
	}

	resp, err := a.client.CreateVolume(ctx, &ec2.CreateVolumeInput{
		AvailabilityZone: aws.String(native),
		Size:             aws.Int32(int32(sizeGB)),
		VolumeType:       volumeTypeFor(tier),
	})
	if err != nil {
		return types.Volume{}, classifyError("aws", "CreateVolume", err)
	}

	return types.Volume{
		ID:        aws.ToString(resp.VolumeId),
		Provider:  types.ProviderAWS,
		SizeGB:    int(aws.ToInt32(resp.Size)),
		Tier:      tier,
		Type:      string(resp.VolumeType),
		CreatedAt: aws.ToTime(resp.CreateTime),
	}, nil
}

func (a *AWSAdapter) DestroyVolume(ctx context.Context, id string) error {
	_, err := a.client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(id)})
	if err != nil {
		return classifyError("aws", "DestroyVolume", err)
	}
	return nil
}

func (a *AWSAdapter) AttachVolume(ctx context.Context, volumeID, instanceID string, opts VolumeAttachOptions) error {
	device := opts.Device
	if device == "" {
		device = "/dev/sdf"
	}
	_, err := a.client.AttachVolume(ctx, &ec2.AttachVolumeInput{
		VolumeId:   aws.String(volumeID),
		InstanceId: aws.String(instanceID),
		Device:     aws.String(device),
	})
	if err != nil {
		return classifyError("aws", "AttachVolume", err)
	}
	return nil
}

func (a *AWSAdapter) DetachVolume(ctx context.Context, volumeID string, opts VolumeDetachOptions) error {
	_, err := a.client.DetachVolume(ctx, &ec2.DetachVolumeInput{
		VolumeId: aws.String(volumeID),
		Force:    aws.Bool(opts.Force),
	})
	if err != nil {
		return classifyError("aws", "DetachVolume", err)
	}
	return nil
}

func (a *AWSAdapter) ResizeVolume(ctx context.Context, volumeID string, newSizeGB int, newTier *types.VolumeTier) error {
	input := &ec2.ModifyVolumeInput{
		VolumeId: aws.String(volumeID),
		Size:     aws.Int32(int32(newSizeGB)),
	}
	if newTier != nil {
		input.VolumeType = volumeTypeFor(*newTier)
	}
	_, err := a.client.ModifyVolume(ctx, input)
	if err != nil {
		return classifyError("aws", "ResizeVolume", err)
	}
	return nil
}

func (a *AWSAdapter) toInstance(inst ec2types.Instance) (types.Instance, error) {
	region := "unknown"
	if inst.Placement != nil && inst.Placement.AvailabilityZone != nil {
		az := aws.ToString(inst.Placement.AvailabilityZone)
		if len(az) > 0 {
			canonical, err := a.region.Canonical(az[:len(az)-1])
			if err == nil {
				region = canonical
			}
		}
	}

	vcpu, memMB := resourcesFor(inst.InstanceType)

	return types.Instance{
		ID:         aws.ToString(inst.InstanceId),
		Provider:   types.ProviderAWS,
		Region:     region,
		VCPU:       vcpu,
		MemoryMB:   memMB,
		BootVolume: bootVolumeID(inst),
		State:      instanceStateFor(inst.State),
		CreatedAt:  aws.ToTime(inst.LaunchTime),
	}, nil
}

func (a *AWSAdapter) toVolume(vol ec2types.Volume) types.Volume {
	var attachedTo *string
	if len(vol.Attachments) > 0 && vol.Attachments[0].InstanceId != nil {
		id := aws.ToString(vol.Attachments[0].InstanceId)
		attachedTo = &id
	}

	return types.Volume{
		ID:         aws.ToString(vol.VolumeId),
		Provider:   types.ProviderAWS,
		SizeGB:     int(aws.ToInt32(vol.Size)),
		Tier:       tierForVolumeType(vol.VolumeType),
		Type:       string(vol.VolumeType),
		AttachedTo: attachedTo,
		CreatedAt:  aws.ToTime(vol.CreateTime),
	}
}

func bootVolumeID(inst ec2types.Instance) string {
	for _, mapping := range inst.BlockDeviceMappings {
		if mapping.Ebs != nil {
			return aws.ToString(mapping.Ebs.VolumeId)
		}
	}
	return ""
}

func instanceStateFor(state *ec2types.InstanceState) types.InstanceState {
	if state == nil {
		return types.InstanceStateGone
	}
	switch state.Name {
	case ec2types.InstanceStatePending:
		return types.InstanceStatePending
	case ec2types.InstanceStateRunning:
		return types.InstanceStateRunning
	case ec2types.InstanceStateShuttingDown, ec2types.InstanceStateStopping, ec2types.InstanceStateStopped:
		return types.InstanceStateTerminating
	case ec2types.InstanceStateTerminated:
		return types.InstanceStateGone
	default:
		return types.InstanceStateGone
	}
}

// instanceTypeFor picks the smallest EC2 instance type satisfying plan. Real
// deployments would consult a full SKU table; this covers the shapes the
// rule set exercises in tests.
func instanceTypeFor(plan Plan) ec2types.InstanceType {
	switch {
	case plan.VCPU <= 1 && plan.MemoryMB <= 1024:
		return ec2types.InstanceTypeT3Micro
	case plan.VCPU <= 2 && plan.MemoryMB <= 4096:
		return ec2types.InstanceTypeT3Medium
	case plan.VCPU <= 4 && plan.MemoryMB <= 16384:
		return ec2types.InstanceTypeT3Xlarge
	default:
		return ec2types.InstanceTypeM5_2xlarge
	}
}

func resourcesFor(instanceType ec2types.InstanceType) (int, int64) {
	switch instanceType {
	case ec2types.InstanceTypeT3Micro:
		return 2, 1024
	case ec2types.InstanceTypeT3Medium:
		return 2, 4096
	case ec2types.InstanceTypeT3Xlarge:
		return 4, 16384
	case ec2types.InstanceTypeM5_2xlarge:
		return 8, 32768
	default:
		return 0, 0
	}
}

func volumeTypeFor(tier types.VolumeTier) ec2types.VolumeType {
	switch tier {
	case types.VolumeTierNVMe:
		return ec2types.VolumeTypeIo2
	case types.VolumeTierSSD:
		return ec2types.VolumeTypeGp3
	default:
		return ec2types.VolumeTypeSt1
	}
}

func tierForVolumeType(volumeType ec2types.VolumeType) types.VolumeTier {
	switch volumeType {
	case ec2types.VolumeTypeIo1, ec2types.VolumeTypeIo2:
		return types.VolumeTierNVMe
	case ec2types.VolumeTypeGp2, ec2types.VolumeTypeGp3:
		return types.VolumeTierSSD
	default:
		return types.VolumeTierStandard
	}
}

// classifyError maps an AWS SDK error into the provider error taxonomy.
// Throttling and 5xx responses are transient; everything else the API
// rejects outright (validation, auth) is permanent.
func classifyError(providerName, op string, err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return &TransientProviderError{Provider: providerName, Op: op, Err: err}
	}

	switch apiErr.ErrorCode() {
	case "RequestLimitExceeded", "Throttling", "ThrottlingException":
		return &RateLimitedError{Provider: providerName, Op: op}
	case "InsufficientInstanceCapacity", "InternalError", "ServiceUnavailable":
		return &TransientProviderError{Provider: providerName, Op: op, Err: err}
	default:
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) && respErr.HTTPStatusCode() >= 500 {
			return &TransientProviderError{Provider: providerName, Op: op, Err: err}
		}
		return &PermanentProviderError{Provider: providerName, Op: op, Err: err}
	}
}
