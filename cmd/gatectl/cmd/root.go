// Package cmd implements the gatectl subcommands. gatectl is the operator
// CLI for the gatekeeper's shared store: inspecting and clearing lockouts,
// managing the geo cache and revoking sessions without restarting anything.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/curasys/gatekeeper/internal/config"
	"github.com/curasys/gatekeeper/internal/infra/redis"
	"github.com/curasys/gatekeeper/pkg/logger"
)

var version string

var rootCmd = &cobra.Command{
	Use:   "gatectl",
	Short: "Gatekeeper administration CLI",
	Long: `gatectl manages the gatekeeper's shared security state.

It connects to the same Redis store the gatekeeper uses, so changes
take effect immediately: clearing a lockout unblocks the next login
attempt, revoking a session forces the user back to the login page.

Connection settings come from the same REDIS_* environment variables
the server reads.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(lockoutsCmd)
	rootCmd.AddCommand(geoCmd)
	rootCmd.AddCommand(sessionsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gatectl version",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Println("gatectl", version)
	},
}

// storeClient connects to the shared store using the server's environment
// configuration. Validation of unrelated sections is skipped on purpose;
// the CLI only needs Redis.
func storeClient() (*redis.Client, error) {
	cfg, err := config.LoadRedis()
	if err != nil {
		return nil, err
	}
	return redis.New(cfg, logger.NewNop())
}
