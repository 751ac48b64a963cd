package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/s0up4200/btrpc/btrpc"
	"github.com/s0up4200/btrpc/deluge"
)

var pollInterval time.Duration

// eventsCmd represents the events command
var eventsCmd = &cobra.Command{
	Use:   "events CLIENT EVENT...",
	Short: "Print events pushed by a client until interrupted",
	Long: `Subscribe to events and print them as JSON lines until interrupted.
Only Deluge supports events.

Example:
  btrpc events deluge TorrentAddedEvent TorrentFinishedEvent`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().DurationVar(&pollInterval, "interval", time.Second, "how often to poll for events")
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := newClient(args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	dc, err := deluge.Wrap(c)
	if err != nil {
		return btrpc.ErrEventsUnsupported
	}

	for _, event := range args[1:] {
		event := event
		if _, err := c.AddEventHandler(ctx, event, func(eventArgs ...any) {
			printJSON(map[string]any{
				"time":  time.Now().Format(time.RFC3339),
				"event": event,
				"args":  eventArgs,
			})
		}); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", event, err)
		}
		logger.Info().Str("event", event).Msg("Subscribed")
	}

	err = dc.WatchEvents(ctx, pollInterval)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
