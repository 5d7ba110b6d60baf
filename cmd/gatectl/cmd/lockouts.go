package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/curasys/gatekeeper/internal/infra/redis"
)

var lockoutsCmd = &cobra.Command{
	Use:   "lockouts",
	Short: "Inspect and clear brute-force lockout counters",
}

var lockoutsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active failure counters and their remaining windows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := storeClient()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx := cmd.Context()
		keys, err := client.Scan(ctx, "attempt:*", 100)
		if err != nil {
			return fmt.Errorf("scan counters: %w", err)
		}
		if len(keys) == 0 {
			cmd.Println("No active failure counters.")
			return nil
		}

		counters := redis.NewCounterStore(client)
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tKEY\tFAILURES\tEXPIRES IN")
		for _, key := range keys {
			count, err := counters.Get(ctx, key)
			if err != nil {
				continue
			}
			ttl, err := counters.TTL(ctx, key)
			if err != nil {
				continue
			}

			kind, name := splitAttemptKey(key)
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", kind, name, count, ttl.Round(time.Second))
		}
		return w.Flush()
	},
}

var lockoutsClearCmd = &cobra.Command{
	Use:   "clear <ip-or-username>...",
	Short: "Clear failure counters, unlocking the IP or account immediately",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := storeClient()
		if err != nil {
			return err
		}
		defer client.Close()

		counters := redis.NewCounterStore(client)
		for _, target := range args {
			// A target can be either kind; clearing a key that does not
			// exist is harmless, so both are cleared.
			keys := []string{redis.AttemptIPKey(target), redis.AttemptUserKey(target)}
			if err := counters.Reset(cmd.Context(), keys...); err != nil {
				return fmt.Errorf("clear %s: %w", target, err)
			}
			cmd.Printf("Cleared counters for %s\n", target)
		}
		return nil
	},
}

func splitAttemptKey(key string) (kind, name string) {
	rest := strings.TrimPrefix(key, "attempt:")
	kind, name, _ = strings.Cut(rest, ":")
	return kind, name
}

func init() {
	lockoutsCmd.AddCommand(lockoutsListCmd)
	lockoutsCmd.AddCommand(lockoutsClearCmd)
}
