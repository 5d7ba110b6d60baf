package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/curasys/gatekeeper/internal/infra/redis"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and revoke active sessions",
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-key>",
	Short: "Show a session's binding and last activity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := storeClient()
		if err != nil {
			return err
		}
		defer client.Close()

		sessions := redis.NewSessionStore(client, 0)
		record, err := sessions.Get(cmd.Context(), args[0])
		if errors.Is(err, redis.ErrKeyNotFound) {
			cmd.Printf("%s: no active session\n", args[0])
			return nil
		}
		if err != nil {
			return fmt.Errorf("session show: %w", err)
		}

		cmd.Printf("Session:       %s\n", record.SessionKey)
		cmd.Printf("User:          %s\n", record.UserID)
		cmd.Printf("Bound IP:      %s\n", record.BoundIP)
		cmd.Printf("Last activity: %s\n", record.LastActivityAt.Format(time.RFC3339))
		return nil
	},
}

var sessionsRevokeCmd = &cobra.Command{
	Use:   "revoke <session-key>...",
	Short: "Revoke sessions, forcing the users back to the login page",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := storeClient()
		if err != nil {
			return err
		}
		defer client.Close()

		sessions := redis.NewSessionStore(client, 24*time.Hour)
		for _, key := range args {
			if err := sessions.Revoke(cmd.Context(), key); err != nil {
				return fmt.Errorf("revoke %s: %w", key, err)
			}
			cmd.Printf("Revoked %s\n", key)
		}
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsRevokeCmd)
}
