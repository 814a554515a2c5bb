package cmd

import (
	"context"
	"fmt"

	"dndj/core/catalog"

	"github.com/spf13/cobra"
)

var checkOffline bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the catalog and fill the cache",
	Long: `Runs every startup check on the catalog: unique track list names, next
links, track locations and, unless --offline is given, a prefetch of every
remote track.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		env, err := openCache(ctx, cfg, !checkOffline)
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return err
		}

		if checkOffline {
			if err := catalog.CheckNames(c); err != nil {
				return err
			}
			err = catalog.CheckTracks(ctx, c, env.cache)
		} else {
			err = catalog.Validate(ctx, c, env.cache, cfg.PrefetchWorkers)
		}
		if err != nil {
			return err
		}

		lists := 0
		for _, g := range c.Groups {
			lists += len(g.TrackLists)
		}
		fmt.Printf("%s: %d groups, %d track lists, OK\n", cfg.CatalogPath, len(c.Groups), lists)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkOffline, "offline", false, "skip downloading remote tracks")
}
