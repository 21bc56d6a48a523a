package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Default wait budgets, in poll attempts.
const (
	DefaultVersionSettle    = 30
	DefaultVersionUpgrade   = 300
	DefaultStarted          = 1200
	DefaultHA               = 1200
	DefaultHARecovery       = 600
	DefaultRestoreStarted   = 600
	DefaultShutdown         = 60
	DefaultSubstrateRemoval = 300
	DefaultDNSName          = 300
)

// Load reads configuration from a YAML file. An empty path, or a path that
// does not exist, yields the defaults.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			// Expand environment variables in the YAML content
			expandedData := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Juju.Constraints == "" {
		c.Juju.Constraints = "mem=2G"
	}
	if c.Juju.Charm == "" {
		c.Juju.Charm = "ubuntu"
	}
	if c.Juju.RestoreSuffix == "" {
		c.Juju.RestoreSuffix = "-restore"
	}
	if c.Juju.APIPort == 0 {
		c.Juju.APIPort = 17070
	}

	t := &c.Timeouts
	if t.PollInterval == 0 {
		t.PollInterval = time.Second
	}
	setDefault(&t.VersionSettle, DefaultVersionSettle)
	setDefault(&t.VersionUpgrade, DefaultVersionUpgrade)
	setDefault(&t.Started, DefaultStarted)
	setDefault(&t.HA, DefaultHA)
	setDefault(&t.HARecovery, DefaultHARecovery)
	setDefault(&t.RestoreStarted, DefaultRestoreStarted)
	setDefault(&t.Shutdown, DefaultShutdown)
	setDefault(&t.SubstrateRemoval, DefaultSubstrateRemoval)
	setDefault(&t.DNSName, DefaultDNSName)

	if c.Substrate.Type == "" {
		c.Substrate.Type = "none"
	}
	if c.Metrics.Textfile == "" {
		c.Metrics.Textfile = "drcheck.prom"
	}
}

// Validate rejects settings that cannot drive an assessment.
func (c *AppConfig) Validate() error {
	if c.Timeouts.PollInterval < 0 {
		return fmt.Errorf("timeouts.poll_interval must not be negative")
	}
	switch c.Substrate.Type {
	case "none", "ec2", "command":
	default:
		return fmt.Errorf("unknown substrate type %q", c.Substrate.Type)
	}
	if c.Substrate.Type == "command" && c.Substrate.TerminateCommand == "" {
		return fmt.Errorf("substrate.terminate_command is required for the command substrate")
	}
	switch c.Database.Driver {
	case "", "pgx", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	return nil
}

func setDefault(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}
