// Package substrate terminates and inspects compute instances underneath a
// juju environment.
package substrate

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupported is returned by substrates that cannot terminate instances.
var ErrUnsupported = errors.New("substrate does not support instance termination")

// Config selects and configures a substrate.
type Config struct {
	Type string `yaml:"type"` // none, ec2, command

	// ec2
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`

	// command; "{env}" and "{ids}" are substituted
	TerminateCommand string `yaml:"terminate_command"`
	ListCommand      string `yaml:"list_command"`
}

// Environment identifies the environment whose instances are managed.
type Environment struct {
	Name string
}

// Substrate terminates instances.
type Substrate interface {
	Terminate(ctx context.Context, env Environment, instanceIDs []string) error
}

// Lister is implemented by substrates that can report whether an instance
// still exists.
type Lister interface {
	InstanceRunning(ctx context.Context, env Environment, instanceID string) (bool, error)
}

// Resolver is implemented by substrates that can map an instance id to an
// address.
type Resolver interface {
	ResolveInstance(ctx context.Context, instanceID string) (string, error)
}

// New builds the substrate named by cfg.Type.
func New(ctx context.Context, cfg Config) (Substrate, error) {
	switch cfg.Type {
	case "", "none":
		return None{}, nil
	case "ec2":
		return NewEC2(ctx, cfg)
	case "command":
		return NewCommand(cfg), nil
	default:
		return nil, fmt.Errorf("unknown substrate type %q", cfg.Type)
	}
}

// None rejects every termination request.
type None struct{}

// Terminate implements Substrate.
func (None) Terminate(ctx context.Context, env Environment, instanceIDs []string) error {
	return fmt.Errorf("terminate %v in %s: %w", instanceIDs, env.Name, ErrUnsupported)
}
