package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"dndj/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioStats  bool
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "Manage the shared object-store tier",
	Long:  `Lists, summarizes or deletes the cached audio kept in the MinIO bucket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		fmt.Printf("MinIO: %s, bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		store, err := storage.NewMinio(ctx, cfg)
		if err != nil {
			return err
		}

		if minioDelete {
			if minioPrefix == "" {
				return fmt.Errorf("--delete needs a --prefix")
			}
			n, err := store.DeletePrefix(ctx, minioPrefix)
			fmt.Printf("Deleted %d objects under %s\n", n, minioPrefix)
			return err
		}

		objects, stats, err := store.List(ctx, minioPrefix)
		if err != nil {
			return err
		}

		if !minioStats {
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSIZE\tMODIFIED")
			for _, o := range objects {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", o.Key, formatSize(o.Size), o.LastModified.Format("2006-01-02 15:04:05"))
			}
			tw.Flush()
		}

		fmt.Printf("\n%d objects, %s", stats.TotalObjects, formatSize(stats.TotalSize))
		if !stats.LastModified.IsZero() {
			fmt.Printf(", last modified %s", stats.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "P", "audio/", "object key prefix")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "print only the bucket summary")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "delete every object under the prefix")

	minioCmd.Example = `  # list cached audio
  dndj minio

  # summary of the whole bucket
  dndj minio -s -P ""

  # drop the shared tier
  dndj minio -d -P audio/`
}
