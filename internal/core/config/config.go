package config

import (
	"time"

	redisclient "github.com/vietddude/drcheck/internal/infra/redis"
	"github.com/vietddude/drcheck/internal/infra/storage/postgres"
	"github.com/vietddude/drcheck/internal/infra/substrate"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Logging   LoggingConfig      `yaml:"logging"`
	Juju      JujuConfig         `yaml:"juju"`
	Timeouts  TimeoutConfig      `yaml:"timeouts"`
	Substrate substrate.Config   `yaml:"substrate"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  postgres.Config    `yaml:"database"`
	Metrics   MetricsConfig      `yaml:"metrics"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// JujuConfig holds settings passed through to the cluster tool.
type JujuConfig struct {
	Constraints    string   `yaml:"constraints"`    // restore and bootstrap constraints
	Charm          string   `yaml:"charm"`          // workload deployed before testing
	RestoreSuffix  string   `yaml:"restore_suffix"` // appended to the environment for the restore session
	APIPort        int      `yaml:"api_port"`       // controller API port probed during shutdown
	KeepEnv        bool     `yaml:"keep_env"`       // skip teardown after the run
	BootstrapExtra []string `yaml:"bootstrap_args"`
}

// TimeoutConfig holds wait budgets. Budgets are counted in poll attempts;
// PollInterval separates attempts, so the wall-clock bound of a wait is
// roughly budget * PollInterval.
type TimeoutConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	VersionSettle    int           `yaml:"version_settle"`    // agent versions quiescing after deploy
	VersionUpgrade   int           `yaml:"version_upgrade"`   // agents reaching the expected version
	Started          int           `yaml:"started"`           // workload agents started after deploy
	HA               int           `yaml:"ha"`                // controller members gaining a vote
	HARecovery       int           `yaml:"ha_recovery"`       // status answering after primary loss
	RestoreStarted   int           `yaml:"restore_started"`   // restored controller reporting workload
	Shutdown         int           `yaml:"shutdown"`          // killed controller becoming unreachable
	SubstrateRemoval int           `yaml:"substrate_removal"` // substrate no longer listing the instance
	DNSName          int           `yaml:"dns_name"`          // machine publishing a dns-name
}

// MetricsConfig controls the Prometheus textfile written after a run.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // relative paths are resolved against the log directory
}
