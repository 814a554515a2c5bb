package cmd

import (
	"context"
	"fmt"

	"dndj/cache"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Test the Redis connection",
	Long:  `Connects to Redis, round-trips a test key and prints the mirrored cache inventory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		fmt.Printf("Redis: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		client, err := cache.ConnectRedis(cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		fmt.Println("Connected.")

		if err := cache.TestRedis(ctx, client); err != nil {
			return err
		}
		fmt.Println("Read/write test passed.")

		ids, err := cache.NewRedisMirror(client).Members(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s holds %d identifiers\n", cache.RedisInventoryKey, len(ids))
		for _, id := range ids {
			fmt.Println("  " + id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
