package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	redisclient "github.com/vietddude/drcheck/internal/infra/redis"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock [env_name]",
	Short: "Release a stale run lock for an environment",
	Args:  cobra.ExactArgs(1),
	Run:   runUnlock,
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}

func runUnlock(cmd *cobra.Command, args []string) {
	env := args[0]
	cfg := loadConfig()
	if cfg.Redis.URL == "" {
		slog.Error("Unlock requires redis.url")
		os.Exit(1)
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	ctx := context.Background()
	holder, held, err := client.LockHolder(ctx, env)
	if err != nil {
		slog.Error("Failed to read lock", "error", err)
		os.Exit(1)
	}
	if !held {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is not locked\n", env)
		return
	}
	// The stale run may have left instances behind at these addresses.
	hosts, err := client.KnownHosts(ctx, env)
	if err != nil {
		slog.Warn("Failed to read known hosts", "error", err)
	}
	if err := client.ReleaseLock(ctx, env, ""); err != nil {
		slog.Error("Failed to release lock", "error", err)
		os.Exit(1)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Released lock on %s held by run %s\n", env, holder)
	printKnownHosts(cmd.OutOrStdout(), hosts)
}

func printKnownHosts(w io.Writer, hosts map[string]string) {
	if len(hosts) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "Known hosts at last update:")
	for _, slot := range slices.Sorted(maps.Keys(hosts)) {
		_, _ = fmt.Fprintf(w, "  %s\t%s\n", slot, hosts[slot])
	}
}
