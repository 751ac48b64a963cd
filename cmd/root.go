package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/s0up4200/btrpc/btrpc"
	"github.com/s0up4200/btrpc/clients"
	"github.com/s0up4200/btrpc/config"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger

	// Connection overrides
	urlFlag     string
	proxyFlag   string
	timeoutFlag string
	logLevel    string

	version   = "dev"
	buildTime = "unknown"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "btrpc",
	Short: "Talk to BitTorrent clients over their RPC interfaces",
	Long: `btrpc calls RPC methods of qBittorrent, Transmission, rTorrent and Deluge
through one interface. Clients are referred to by name or by a profile from
the config file.`,
	SilenceUsage:      true,
	PersistentPreRunE: initializeApp,
}

// SetVersion sets the version reported by --version and used by update
func SetVersion(v, built string) {
	version = v
	buildTime = built
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&urlFlag, "url", "", "override the client URL")
	rootCmd.PersistentFlags().StringVar(&proxyFlag, "proxy", "", "proxy URL, e.g. socks5://localhost:1080")
	rootCmd.PersistentFlags().StringVar(&timeoutFlag, "timeout", "", "timeout in seconds or as duration, e.g. 2.5 or 1m")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the logging level")
}

// initializeApp loads the configuration and sets up logging
func initializeApp(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger = setupLogger(cfg.Logging)
	return nil
}

// setupLogger configures the zerolog logger
func setupLogger(lc config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(lc.Level) {
	case "trace":
		level = zerolog.TraceLevel
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	if lc.Format == "json" {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}

	fd := os.Stderr.Fd()
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    !lc.Color || !(isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)),
	}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// newClient creates a client for a client name or config profile, applying
// the connection flags on top of the config
func newClient(profile string) (*btrpc.Client, error) {
	cc, err := cfg.Client(profile)
	if err != nil {
		return nil, err
	}
	if urlFlag != "" {
		cc.URL = urlFlag
	}
	if proxyFlag != "" {
		cc.ProxyURL = proxyFlag
	}
	if timeoutFlag != "" {
		if _, err := btrpc.ParseTimeout(timeoutFlag); err != nil {
			return nil, fmt.Errorf("invalid timeout: %s", timeoutFlag)
		}
		cc.Timeout = timeoutFlag
	}

	name := cfg.ClientName(profile)
	c, err := clients.New(name, cc.Options(logger.With().Str("profile", profile).Logger())...)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", name, err)
	}
	return c, nil
}

// profiles returns args, or every configured profile if args is empty
func profiles(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(cfg.Clients) == 0 {
		return nil, fmt.Errorf("no clients configured, name at least one client")
	}
	var names []string
	for name := range cfg.Clients {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
