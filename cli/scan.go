package cli

import (
	"fmt"
	"time"

	"github.com/bitrise-io/go-chunkupload/media"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

func newScanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [dir]",
		Short: "List the media files below a directory, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := a.cfg.MediaRoot
			if len(args) == 1 {
				root = args[0]
			}

			index, err := media.NewDirIndex(root, a.logger)
			if err != nil {
				return err
			}
			items, err := index.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("scan %s: %w", index.Root(), err)
			}

			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintf(out, "No media found in %s\n", index.Root())
				return nil
			}

			var total int64
			for _, item := range items {
				total += item.SizeBytes
				fmt.Fprintf(out, "%-10s  %s  %s\n",
					units.HumanSize(float64(item.SizeBytes)), item.DateAdded.Format(time.DateTime), item.URI)
			}
			fmt.Fprintf(out, "%d item(s), %s\n", len(items), units.HumanSize(float64(total)))
			return nil
		},
	}
}
