package substrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// EC2API is the subset of the EC2 client the substrate uses.
type EC2API interface {
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, opts ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// EC2 terminates instances through the AWS API.
type EC2 struct {
	client EC2API
	log    *slog.Logger
}

// NewEC2 creates an EC2 substrate. Static credentials are used when both
// keys are configured, otherwise the default AWS credential chain applies.
func NewEC2(ctx context.Context, cfg Config) (*EC2, error) {
	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewEC2WithClient(client), nil
}

// NewEC2WithClient wraps an existing EC2 client.
func NewEC2WithClient(client EC2API) *EC2 {
	return &EC2{client: client, log: slog.Default()}
}

// Terminate implements Substrate.
func (e *EC2) Terminate(ctx context.Context, env Environment, instanceIDs []string) error {
	e.log.Info("Terminating instances", "env", env.Name, "instances", instanceIDs)
	_, err := e.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: instanceIDs,
	})
	if err != nil {
		return fmt.Errorf("terminate instances %v: %w", instanceIDs, err)
	}
	return nil
}

// InstanceRunning implements Lister. Instances that are shutting down or
// terminated count as gone.
func (e *EC2) InstanceRunning(ctx context.Context, env Environment, instanceID string) (bool, error) {
	inst, err := e.describe(ctx, instanceID)
	if err != nil || inst == nil {
		return false, err
	}
	if inst.State == nil {
		return true, nil
	}
	switch inst.State.Name {
	case types.InstanceStateNameShuttingDown, types.InstanceStateNameTerminated:
		return false, nil
	default:
		return true, nil
	}
}

// ResolveInstance implements Resolver.
func (e *EC2) ResolveInstance(ctx context.Context, instanceID string) (string, error) {
	inst, err := e.describe(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if inst == nil {
		return "", fmt.Errorf("instance %s not found", instanceID)
	}
	for _, addr := range []*string{inst.PublicDnsName, inst.PublicIpAddress, inst.PrivateIpAddress} {
		if v := aws.ToString(addr); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("instance %s has no address", instanceID)
}

func (e *EC2) describe(ctx context.Context, instanceID string) (*types.Instance, error) {
	out, err := e.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, fmt.Errorf("describe instance %s: %w", instanceID, err)
	}
	for _, r := range out.Reservations {
		for i := range r.Instances {
			if aws.ToString(r.Instances[i].InstanceId) == instanceID {
				return &r.Instances[i], nil
			}
		}
	}
	return nil, nil
}
