package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/s0up4200/btrpc/clients"
)

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test [CLIENT...]",
	Short: "Test the connection to clients",
	Long: `Connect to each client concurrently and report the daemon version.
Without arguments all configured profiles are tested.`,
	RunE: runTest,
}

func init() {
	rootCmd.AddCommand(testCmd)
}

type testResult struct {
	label   string
	url     string
	version string
	elapsed time.Duration
	err     error
}

func runTest(cmd *cobra.Command, args []string) error {
	names, err := profiles(args)
	if err != nil {
		return err
	}

	results := make([]testResult, len(names))
	g, ctx := errgroup.WithContext(cmd.Context())
	for i, profile := range names {
		i, profile := i, profile
		g.Go(func() error {
			results[i] = probe(ctx, profile)
			// Failures are reported per client
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for i, r := range results {
		if r.err != nil {
			failed++
			fmt.Printf("✗ %s (%s at %s): %v\n", names[i], r.label, r.url, r.err)
			continue
		}
		fmt.Printf("✓ %s (%s %s at %s) in %s\n", names[i], r.label, r.version, r.url, r.elapsed.Round(time.Millisecond))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d clients failed", failed, len(names))
	}
	return nil
}

func probe(ctx context.Context, profile string) testResult {
	c, err := newClient(profile)
	if err != nil {
		return testResult{label: profile, err: err}
	}
	defer c.Close()

	r := testResult{label: c.Label(), url: c.URL().String()}
	start := time.Now()
	if err := c.Connect(ctx); err != nil {
		r.err = err
		return r
	}

	version, err := clients.Version(ctx, c)
	if err != nil {
		logger.Debug().Err(err).Str("profile", profile).Msg("Failed to get version")
		raw, rawErr := clients.DaemonVersion(ctx, c)
		if rawErr != nil {
			r.err = rawErr
			return r
		}
		r.version = raw
	} else {
		r.version = version.String()
	}
	r.elapsed = time.Since(start)
	return r
}
