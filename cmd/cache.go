package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the download cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached remote tracks",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openCache(context.Background(), cfg, false)
		if err != nil {
			return err
		}
		defer env.Close()

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tFILE\tSIZE")
		for _, e := range env.cache.Entries() {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.ID, e.File, formatSize(e.Size))
		}
		tw.Flush()

		count, bytes := env.cache.Stats()
		fmt.Printf("\n%d files, %s in %s\n", count, formatSize(bytes), env.cache.Dir())
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached remote track",
	Long:  `Deletes every file of the download directory. Do not run it while a server is playing from the same directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openCache(context.Background(), cfg, false)
		if err != nil {
			return err
		}
		defer env.Close()

		count, bytes := env.cache.Stats()
		if err := env.cache.Clear(); err != nil {
			return err
		}
		fmt.Printf("Removed %d files (%s) from %s\n", count, formatSize(bytes), env.cache.Dir())
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheListCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
