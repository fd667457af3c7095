// Package aws rotates EC2 AMIs. Each "snapshot" of an instance is an image
// created with NoReboot and tagged with the owning instance.
package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog"

	"github.com/yairfalse/snapkeep/providers"
	"github.com/yairfalse/snapkeep/types"
)

// ProviderName is the registry key
const ProviderName = "aws"

// Tags written on and filtered by
const (
	TagInstanceID = "snapkeep:instance-id"
	TagManaged    = "snapkeep:managed"
	TagName       = "Name"
)

var instanceStates = []string{"pending", "running", "stopping", "stopped"}

func init() {
	providers.RegisterProvider(ProviderName, func(ctx context.Context, config providers.ProviderConfig) (providers.InventoryClient, error) {
		return NewProvider(ctx, config)
	})
}

// Provider implements providers.InventoryClient over EC2 images
type Provider struct {
	client EC2API
	region string
	clock  func() time.Time
	logger zerolog.Logger
}

// NewProvider loads the default AWS credential chain for the region
func NewProvider(ctx context.Context, cfg providers.ProviderConfig) (*Provider, error) {
	if cfg.Region == "" {
		return nil, types.NewConfigError("region", "aws provider requires a region")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, types.NewConfigError("aws", "load aws config: %w", err)
	}

	client := ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
		if cfg.BaseURL != "" {
			o.BaseEndpoint = aws.String(cfg.BaseURL)
		}
		// single attempt per call
		o.RetryMaxAttempts = 1
	})
	return New(client, cfg.Region), nil
}

// New wraps an EC2 client
func New(client EC2API, region string) *Provider {
	return &Provider{
		client: client,
		region: region,
		clock:  time.Now,
		logger: zerolog.Nop(),
	}
}

// WithLogger sets the logger for non-fatal cleanup problems
func (p *Provider) WithLogger(logger zerolog.Logger) *Provider {
	p.logger = logger
	return p
}

// Name returns the provider name
func (p *Provider) Name() string { return ProviderName }

// Region returns the AWS region
func (p *Provider) Region() string { return p.region }

// ListInstances returns managed instances that are not terminated
func (p *Provider) ListInstances(ctx context.Context) ([]types.Instance, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:" + TagManaged), Values: []string{"true"}},
			{Name: aws.String("instance-state-name"), Values: instanceStates},
		},
	}

	var instances []types.Instance
	paginator := ec2.NewDescribeInstancesPaginator(p.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, types.NewTransportError("list instances", "", fmt.Errorf("%s", errorDetail(err)))
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				instances = append(instances, p.convertInstance(inst))
			}
		}
	}
	return instances, nil
}

// GetInstance describes one instance
func (p *Provider) GetInstance(ctx context.Context, id string) (*types.Instance, error) {
	out, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		if isNotFound(err) {
			return nil, types.NewNotFoundError("get instance", id)
		}
		return nil, types.NewTransportError("get instance", id, fmt.Errorf("%s", errorDetail(err)))
	}

	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			if aws.ToString(inst.InstanceId) == id {
				converted := p.convertInstance(inst)
				return &converted, nil
			}
		}
	}
	return nil, types.NewNotFoundError("get instance", id)
}

// ListSnapshots returns the images tagged with the instance ID
func (p *Provider) ListSnapshots(ctx context.Context, instanceID string) ([]types.Snapshot, error) {
	input := &ec2.DescribeImagesInput{
		Owners: []string{"self"},
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:" + TagInstanceID), Values: []string{instanceID}},
		},
	}

	var snapshots []types.Snapshot
	paginator := ec2.NewDescribeImagesPaginator(p.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, types.NewTransportError("list snapshots", instanceID, fmt.Errorf("%s", errorDetail(err)))
		}
		for _, image := range page.Images {
			snapshots = append(snapshots, convertImage(image, instanceID))
		}
	}
	return snapshots, nil
}

// CreateSnapshot creates an AMI without rebooting the instance
func (p *Provider) CreateSnapshot(ctx context.Context, instanceID, description string) (*types.Snapshot, error) {
	tags := []ec2types.Tag{
		{Key: aws.String(TagInstanceID), Value: aws.String(instanceID)},
		{Key: aws.String(TagManaged), Value: aws.String("true")},
		{Key: aws.String(TagName), Value: aws.String(description)},
	}

	out, err := p.client.CreateImage(ctx, &ec2.CreateImageInput{
		InstanceId:  aws.String(instanceID),
		Name:        aws.String(description),
		Description: aws.String(description),
		NoReboot:    aws.Bool(true),
		TagSpecifications: []ec2types.TagSpecification{
			{ResourceType: ec2types.ResourceTypeImage, Tags: tags},
			{ResourceType: ec2types.ResourceTypeSnapshot, Tags: tags},
		},
	})
	if err != nil {
		var cause error
		if isNotFound(err) {
			cause = types.ErrNotFound
		}
		return nil, types.NewCreateFailedError(instanceID, errorDetail(err), cause)
	}
	if out == nil || aws.ToString(out.ImageId) == "" {
		return nil, types.NewCreateFailedError(instanceID, "CreateImage returned no image ID", nil)
	}

	return &types.Snapshot{
		ID:          aws.ToString(out.ImageId),
		InstanceID:  instanceID,
		CreatedAt:   p.clock().UTC(),
		Description: description,
		Status:      string(ec2types.ImageStatePending),
	}, nil
}

// DeleteSnapshot deregisters the AMI and then deletes its EBS snapshots.
// The image is gone once DeregisterImage succeeds, so a leftover EBS
// snapshot is logged rather than failing the rotation.
func (p *Provider) DeleteSnapshot(ctx context.Context, imageID string) error {
	out, err := p.client.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{imageID}})
	if err != nil {
		if isNotFound(err) {
			return types.NewDeleteFailedError(imageID, errorDetail(err), types.ErrNotFound)
		}
		return types.NewDeleteFailedError(imageID, errorDetail(err), nil)
	}
	if len(out.Images) == 0 {
		return types.NewDeleteFailedError(imageID, "image does not exist", types.ErrNotFound)
	}
	backing := backingSnapshots(out.Images[0])

	if _, err := p.client.DeregisterImage(ctx, &ec2.DeregisterImageInput{ImageId: aws.String(imageID)}); err != nil {
		var cause error
		if isNotFound(err) {
			cause = types.ErrNotFound
		}
		return types.NewDeleteFailedError(imageID, errorDetail(err), cause)
	}

	var leftovers []error
	for _, snapshotID := range backing {
		_, err := p.client.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(snapshotID)})
		if err != nil {
			leftovers = append(leftovers, fmt.Errorf("%s: %s", snapshotID, errorDetail(err)))
		}
	}
	if err := errors.Join(leftovers...); err != nil {
		p.logger.Warn().
			Err(err).
			Str("image_id", imageID).
			Msg("image deregistered but backing snapshots remain")
	}
	return nil
}

func (p *Provider) convertInstance(inst ec2types.Instance) types.Instance {
	name := tagValue(inst.Tags, TagName)
	return types.Instance{
		ID:     aws.ToString(inst.InstanceId),
		Label:  name,
		Tag:    name,
		Plan:   string(inst.InstanceType),
		Region: p.region,
	}
}

func convertImage(image ec2types.Image, instanceID string) types.Snapshot {
	created, err := time.Parse(time.RFC3339Nano, aws.ToString(image.CreationDate))
	if err != nil {
		created = time.Time{}
	}

	var size int64
	for _, mapping := range image.BlockDeviceMappings {
		if mapping.Ebs != nil && mapping.Ebs.VolumeSize != nil {
			size += int64(*mapping.Ebs.VolumeSize) << 30
		}
	}

	description := aws.ToString(image.Description)
	if description == "" {
		description = aws.ToString(image.Name)
	}

	return types.Snapshot{
		ID:          aws.ToString(image.ImageId),
		InstanceID:  instanceID,
		CreatedAt:   created.UTC(),
		Description: description,
		Status:      string(image.State),
		SizeBytes:   size,
	}
}

func backingSnapshots(image ec2types.Image) []string {
	var ids []string
	for _, mapping := range image.BlockDeviceMappings {
		if mapping.Ebs != nil && mapping.Ebs.SnapshotId != nil {
			ids = append(ids, *mapping.Ebs.SnapshotId)
		}
	}
	return ids
}

func tagValue(tags []ec2types.Tag, key string) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == key {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}

var _ providers.InventoryClient = (*Provider)(nil)
