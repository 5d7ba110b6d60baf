package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/curasys/gatekeeper/internal/infra/redis"
)

var geoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Inspect and purge the shared IP geolocation cache",
}

var geoGetCmd = &cobra.Command{
	Use:   "get <ip>",
	Short: "Show the cached country for an IP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := storeClient()
		if err != nil {
			return err
		}
		defer client.Close()

		cache := redis.NewGeoCache(client, 0)
		country, err := cache.Get(cmd.Context(), args[0])
		if errors.Is(err, redis.ErrKeyNotFound) {
			cmd.Printf("%s: not cached\n", args[0])
			return nil
		}
		if err != nil {
			return fmt.Errorf("geo get: %w", err)
		}

		cmd.Printf("%s: %s\n", args[0], country)
		return nil
	},
}

var geoPurgeCmd = &cobra.Command{
	Use:   "purge <ip>...",
	Short: "Purge cached countries, forcing fresh resolution",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := storeClient()
		if err != nil {
			return err
		}
		defer client.Close()

		cache := redis.NewGeoCache(client, 0)
		for _, ip := range args {
			if err := cache.Purge(cmd.Context(), ip); err != nil {
				return fmt.Errorf("purge %s: %w", ip, err)
			}
			cmd.Printf("Purged %s\n", ip)
		}
		return nil
	},
}

func init() {
	geoCmd.AddCommand(geoGetCmd)
	geoCmd.AddCommand(geoPurgeCmd)
}
