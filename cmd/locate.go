package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/s0up4200/btrpc/hardlink"
	"github.com/s0up4200/btrpc/qbittorrent"
)

var locateClient string

// locateCmd represents the locate command
var locateCmd = &cobra.Command{
	Use:   "locate PATH...",
	Short: "Find the qBittorrent torrents that contain files",
	Long: `Find the torrent that contains each path and report whether it is
seeding and whether the file is hardlinked elsewhere, e.g. into a media
library.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLocate,
}

func init() {
	rootCmd.AddCommand(locateCmd)

	locateCmd.Flags().StringVar(&locateClient, "client", qbittorrent.Name, "qBittorrent client or profile")
}

func runLocate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := newClient(locateClient)
	if err != nil {
		return err
	}
	defer c.Close()

	qc, err := qbittorrent.Wrap(c)
	if err != nil {
		return err
	}

	var missing int
	for _, path := range args {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}

		torrent, err := qc.TorrentByPath(ctx, abs)
		if err != nil {
			return fmt.Errorf("failed to search torrents: %w", err)
		}
		if torrent == nil {
			missing++
			fmt.Printf("✗ %s: not in any torrent\n", path)
			continue
		}

		fmt.Printf("✓ %s\n", path)
		fmt.Printf("  Torrent: %s (%s)\n", torrent.Name, torrent.Hash)
		fmt.Printf("  State:   %s", torrent.State)
		if torrent.IsActivelySeeding() {
			fmt.Printf(" [SEEDING]")
		}
		fmt.Println()

		switch count, err := hardlink.LinkCount(abs); {
		case err != nil:
			logger.Debug().Err(err).Str("path", abs).Msg("Failed to count links")
		case count > 1:
			fmt.Printf("  Links:   %d (hardlinked)\n", count)
		default:
			fmt.Printf("  Links:   1 (not hardlinked)\n")
		}
	}

	if missing > 0 {
		return fmt.Errorf("%d of %d paths not found", missing, len(args))
	}
	return nil
}
