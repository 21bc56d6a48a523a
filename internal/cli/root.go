package cli

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/drcheck/internal/control"
	"github.com/vietddude/drcheck/internal/core/config"
	"github.com/vietddude/drcheck/internal/core/domain"
)

var (
	cfgPath     string
	isDebug     bool
	strategy    = domain.StrategyBackup
	charmPrefix string
	agentStream string
	series      string
	keepEnv     bool
)

var rootCmd = &cobra.Command{
	Use:   "drcheck [flags] JUJU_PATH ENV_NAME LOGS [TEMP_ENV_NAME]",
	Short: "Test recovery strategies",
	Long: `drcheck bootstraps a juju environment, kills its primary controller and
verifies that the environment recovers through HA failover or a backup restore.

The strategy flags --ha, --backup and --ha-backup may be combined; the last one
given wins. Without any of them the backup strategy runs.`,
	Args: cobra.RangeArgs(3, 4),
	Run:  runAssessment,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "use --debug juju logging and debug log level")

	strategyFlag("ha", domain.StrategyHA, "test HA")
	strategyFlag("backup", domain.StrategyBackup, "test backup/restore")
	strategyFlag("ha-backup", domain.StrategyHABackup, "test backup/restore of HA")

	rootCmd.Flags().StringVar(&charmPrefix, "charm-prefix", "", "a prefix for charm urls")
	rootCmd.Flags().StringVar(&agentStream, "agent-stream", "", "stream for retrieving agent binaries")
	rootCmd.Flags().StringVar(&series, "series", "", "name of the Ubuntu series to use")
	rootCmd.Flags().BoolVar(&keepEnv, "keep-env", false, "do not destroy the environment after the run")
}

// strategyValue is a boolean flag that stores its kind into the shared
// strategy when set, so the last strategy flag given wins.
type strategyValue struct {
	target *domain.StrategyKind
	kind   domain.StrategyKind
}

func (v *strategyValue) String() string {
	return strconv.FormatBool(*v.target == v.kind)
}

func (v *strategyValue) Set(s string) error {
	on, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if on {
		*v.target = v.kind
	}
	return nil
}

func (v *strategyValue) Type() string { return "bool" }

func strategyFlag(name string, kind domain.StrategyKind, usage string) {
	f := rootCmd.Flags().VarPF(&strategyValue{target: &strategy, kind: kind}, name, "", usage)
	f.NoOptDefVal = "true"
}

// selectedStrategy returns the strategy chosen by the last strategy flag.
func selectedStrategy() domain.StrategyKind {
	return strategy
}

// loadConfig loads .env and the config file and initializes logging.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	// Load Configuration
	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return cfg
}

func runAssessment(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	// Transform config
	runCfg := control.Config{
		JujuPath:    args[0],
		Environment: args[1],
		LogDir:      args[2],
		Strategy:    selectedStrategy(),
		CharmPrefix: charmPrefix,
		Debug:       isDebug,
		AgentStream: agentStream,
		Series:      series,
		KeepEnv:     keepEnv,
		App:         cfg,
		Out:         cmd.OutOrStdout(),
	}
	if len(args) == 4 {
		runCfg.TempEnvironment = args[3]
	}

	ctx := context.Background()
	app, err := control.NewAssessment(ctx, runCfg)
	if err != nil {
		slog.Error("Failed to initialize assessment", "error", err)
		os.Exit(1)
	}

	slog.Info("Assessment started", "env", runCfg.EnvironmentName(), "strategy", runCfg.Strategy, "run", app.RunID())
	runErr := app.Run(ctx)
	if err := app.Close(); err != nil {
		slog.Warn("Error during shutdown", "error", err)
	}
	if runErr != nil {
		slog.Error("Assessment failed", "error", runErr)
		os.Exit(1)
	}
}
