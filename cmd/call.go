package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/s0up4200/btrpc/btrpc"
	"github.com/s0up4200/btrpc/filter"
	"github.com/s0up4200/btrpc/qbittorrent"
	"github.com/s0up4200/btrpc/transmission"
)

var (
	filterExpr string
	selectPath string
	compact    bool
)

// callCmd represents the call command
var callCmd = &cobra.Command{
	Use:   "call CLIENT METHOD [ARGS...]",
	Short: "Call an RPC method and print the result as JSON",
	Long: `Call an RPC method and print the result as JSON.

qBittorrent and Transmission take named arguments (key=value), rTorrent and
Deluge take positional arguments. Values are parsed as JSON if possible and
used as strings otherwise. qBittorrent values starting with @ are uploaded
as files.

Examples:
  btrpc call qbittorrent torrents/info filter=completed
  btrpc call qbittorrent torrents/add torrents=@ubuntu.torrent savepath=/downloads
  btrpc call transmission torrent-get 'fields=["id","name"]' --select arguments.torrents
  btrpc call rtorrent d.multicall2 '""' main d.hash= d.name=
  btrpc call deluge core.get_torrents_status '{}' '["name","state"]' --filter 'state == "Seeding"'`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringVarP(&filterExpr, "filter", "f", "", "filter expression or name of a filter from config")
	callCmd.Flags().StringVarP(&selectPath, "select", "s", "", "dot separated path of the value to print, e.g. arguments.torrents")
	callCmd.Flags().BoolVar(&compact, "compact", false, "print JSON without indentation")
}

func runCall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	profile, method := args[0], args[1]

	c, err := newClient(profile)
	if err != nil {
		return err
	}
	defer c.Close()

	callArgs, err := parseArgs(c.Name(), args[2:])
	if err != nil {
		return err
	}

	result, err := c.Call(ctx, method, callArgs...)
	if err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}

	if result, err = filter.Select(result, selectPath); err != nil {
		return err
	}

	if filterExpr != "" {
		f, err := filter.Compile(cfg.Filter(filterExpr))
		if err != nil {
			return err
		}
		ev := filter.NewEvaluator(filter.WithLogger(logger))
		if result, err = ev.Apply(ctx, f, result); err != nil {
			return err
		}
	}

	return printJSON(result)
}

// parseArgs converts command line arguments to call arguments for client
func parseArgs(client string, args []string) ([]any, error) {
	switch client {
	case qbittorrent.Name, transmission.Name:
		if len(args) == 0 {
			return nil, nil
		}
		params := map[string]any{}
		for _, arg := range args {
			key, value, ok := strings.Cut(arg, "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("expected key=value: %s", arg)
			}
			if client == qbittorrent.Name && strings.HasPrefix(value, "@") {
				file, err := readFile(value[1:])
				if err != nil {
					return nil, err
				}
				params[key] = file
				continue
			}
			params[key] = parseValue(value)
		}
		return []any{params}, nil
	default:
		values := make([]any, len(args))
		for i, arg := range args {
			values[i] = parseValue(arg)
		}
		return values, nil
	}
}

// parseValue decodes s as JSON, falling back to the string itself
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	// rTorrent and Transmission want integers where JSON has no distinction
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f)
	}
	return v
}

func readFile(path string) (btrpc.File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return btrpc.File{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return btrpc.File{Name: filepath.Base(path), Content: content}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
