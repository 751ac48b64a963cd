package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/s0up4200/btrpc/clients"
)

// clientsCmd represents the clients command
var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "List supported clients and configured profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range clients.Names() {
			c, err := clients.New(name)
			if err != nil {
				return err
			}
			fmt.Printf("%-14s %-14s %s\n", name, c.Label(), c.URL())
		}

		names, err := profiles(nil)
		if err != nil {
			return nil
		}
		fmt.Println("\nProfiles:")
		for _, profile := range names {
			c, err := newClient(profile)
			if err != nil {
				return err
			}
			fmt.Printf("%-14s %-14s %s\n", profile, c.Label(), c.URL())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clientsCmd)
}
