package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/botfleet/botfleet/internal/dependency"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <credential-id>",
	Short: "Reconcile a bot's chat membership now",
	Long: "Attaches a throwaway subscription for the credential, drains any buffered\n" +
		"membership updates, and applies them to the chat table.",
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withContainer(func(c *dependency.Container) error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			n, err := c.Scheduler().RunNow(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("✓ reconciled %s: %d chat rows updated\n", args[0], n)

			shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutCancel()
			return c.Hub().Shutdown(shutCtx)
		})
	},
}
