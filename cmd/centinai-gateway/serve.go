// ABOUTME: serve, sweep and health commands
// ABOUTME: serve runs the gateway; sweep runs one reaper pass against the database

package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/centinai-gateway/internal/conversation"
	"github.com/2389/centinai-gateway/internal/gateway"
	"github.com/2389/centinai-gateway/internal/reaper"
	"github.com/2389/centinai-gateway/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if !cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Timeout:   %s (sweep %s)\n", cfg.Conversations.Timeout, cfg.Conversations.SweepSchedule)

	if cfg.Analyzer.URL != "" {
		green.Print("    ▶ ")
		fmt.Printf("Analyzer:  %s\n", cfg.Analyzer.URL)
	}
	if cfg.Export.Dir != "" {
		green.Print("    ▶ ")
		fmt.Printf("Exports:   %s\n", cfg.Export.Dir)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting centinai-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"conversation_timeout", cfg.Conversations.Timeout,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(cmd.Context())
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Export and close idle conversations once, then exit",
		Long: "Runs a single reaper pass against the configured database. Safe to run " +
			"alongside a serving gateway; conversations extended mid-sweep stay open.",
		Args: cobra.NoArgs,
		RunE: runSweep,
	}
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	dispatcher, err := gateway.NewDispatcher(cfg, logger)
	if err != nil {
		return err
	}

	lifecycle := conversation.NewLifecycle(s, dispatcher, cfg.Conversations.Timeout, logger)
	res, err := reaper.New(lifecycle, dispatcher, cfg.Conversations.SweepSchedule, logger).Sweep(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	out := cmd.OutOrStdout()
	color.New(color.FgGreen).Fprintln(out, "✓ Sweep complete")
	fmt.Fprintf(out, "  Found:        %d\n", res.Found)
	fmt.Fprintf(out, "  Closed:       %d\n", res.Closed)
	fmt.Fprintf(out, "  Exported:     %d\n", res.Exported)
	fmt.Fprintf(out, "  Still active: %d\n", res.StillActive)
	return nil
}

func newHealthCmd() *cobra.Command {
	var ready bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runHealth(cmd, healthURL(cfg.Server.HTTPAddr, ready))
		},
	}
	cmd.Flags().BoolVar(&ready, "ready", false, "check readiness (store reachable) instead of liveness")
	return cmd
}

// healthURL builds the health endpoint URL for a listen address.
// Wildcard hosts are checked on loopback.
func healthURL(addr string, ready bool) string {
	host := addr
	switch {
	case strings.HasPrefix(host, "0.0.0.0:"):
		host = "127.0.0.1:" + strings.TrimPrefix(host, "0.0.0.0:")
	case strings.HasPrefix(host, ":"):
		host = "127.0.0.1" + host
	}
	path := "/health"
	if ready {
		path += "/ready"
	}
	return "http://" + host + path
}

func runHealth(cmd *cobra.Command, url string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Fprintln(cmd.OutOrStdout(), "healthy")
	return nil
}
