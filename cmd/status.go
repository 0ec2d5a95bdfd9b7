package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/botfleet/botfleet/internal/config"
	"github.com/botfleet/botfleet/internal/dependency"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show botfleet status",
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfgPath := config.ConfigPath()

	fmt.Println("botfleet status")
	fmt.Println()

	_, statErr := os.Stat(cfgPath)
	cfgMark := "✗"
	if statErr == nil {
		cfgMark = "✓"
	}
	fmt.Printf("Config:   %s %s\n", cfgPath, cfgMark)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  (could not load config: %v)\n", err)
		return nil
	}

	dataDir := cfg.ResolveDataDir()
	_, dirErr := os.Stat(dataDir)
	dirMark := "✗"
	if dirErr == nil {
		dirMark = "✓"
	}
	fmt.Printf("Data dir: %s %s\n", dataDir, dirMark)
	fmt.Printf("Gateway:  %s\n", cfg.Gateway.Listen)
	fmt.Printf("Sweep:    %s\n\n", cfg.Reconcile.Schedule)

	c, err := dependency.New(cfg)
	if err != nil {
		fmt.Printf("  (could not open data dir: %v)\n", err)
		return nil
	}
	defer c.Close()

	records, err := c.Credentials().List()
	if err != nil {
		return err
	}
	fmt.Println("Tokens:")
	if len(records) == 0 {
		fmt.Println("  (none)")
		return nil
	}
	for _, r := range records {
		mark := "✓"
		if !r.Active {
			mark = "✗"
		}
		chats, _ := c.Applier().Chats(r.ID)
		joined := 0
		for _, m := range chats {
			if m.Joined() {
				joined++
			}
		}
		fmt.Printf("  %s %-20s %s  chats: %d joined / %d known\n", mark, r.ID, r.Digest(), joined, len(chats))
	}
	return nil
}
