package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/botfleet/botfleet/internal/config"
	"github.com/botfleet/botfleet/internal/credential"
	"github.com/botfleet/botfleet/internal/dependency"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage bot token records",
}

var (
	tokenLabel    string
	tokenInactive bool
)

var tokensAddCmd = &cobra.Command{
	Use:   "add <id> <token>",
	Short: "Add or replace a bot token record",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return withContainer(func(c *dependency.Container) error {
			rec := credential.Record{
				ID:     args[0],
				Token:  args[1],
				Label:  tokenLabel,
				Active: !tokenInactive,
			}
			if err := c.Credentials().Put(rec); err != nil {
				return err
			}
			fmt.Printf("✓ token %s saved (%s)\n", rec.ID, rec.Digest())
			return nil
		})
	},
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bot token records",
	RunE: func(_ *cobra.Command, _ []string) error {
		return withContainer(func(c *dependency.Container) error {
			records, err := c.Credentials().List()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No tokens configured. Add one with: botfleet tokens add <id> <token>")
				return nil
			}
			for _, r := range records {
				mark := "✓"
				if !r.Active {
					mark = "✗"
				}
				fmt.Printf("%s %-20s %s  %s\n", mark, r.ID, r.Digest(), r.Label)
			}
			return nil
		})
	},
}

var tokensRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a bot token record",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withContainer(func(c *dependency.Container) error {
			if err := c.Credentials().Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ token %s removed\n", args[0])
			return nil
		})
	},
}

func init() {
	tokensAddCmd.Flags().StringVar(&tokenLabel, "label", "", "Human-readable label")
	tokensAddCmd.Flags().BoolVar(&tokenInactive, "inactive", false, "Create the record deactivated")

	tokensCmd.AddCommand(tokensAddCmd)
	tokensCmd.AddCommand(tokensListCmd)
	tokensCmd.AddCommand(tokensRmCmd)
}

// withContainer wires the services for a one-shot CLI action and tears them
// down afterwards.
func withContainer(fn func(*dependency.Container) error) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c, err := dependency.New(cfg)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	defer c.Close()
	return fn(c)
}
