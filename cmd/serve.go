package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/botfleet/botfleet/internal/config"
	"github.com/botfleet/botfleet/internal/dependency"
)

var (
	serveListen     string
	serveConfigPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the botfleet hub and gateway",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Gateway listen address (overrides config)")
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Config file path")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveListen != "" {
		cfg.Gateway.Listen = serveListen
	}

	c, err := dependency.New(cfg)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	defer c.Close()

	// Graceful shutdown context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Gateway().Start(gctx) })
	g.Go(func() error { return c.Scheduler().Start(gctx) })

	fmt.Printf("botfleet hub running on %s. Press Ctrl+C to stop.\n", cfg.Gateway.Listen)

	err = g.Wait()

	// Pollers may be mid-backoff; bound the wait so shutdown never hangs.
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := c.Hub().Shutdown(shutCtx); serr != nil {
		fmt.Fprintf(os.Stderr, "hub shutdown: %v\n", serr)
	}

	if err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "serve error: %v\n", err)
		return err
	}
	fmt.Println("\nShutdown complete.")
	return nil
}
