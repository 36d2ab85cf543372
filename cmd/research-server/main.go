// Package main provides the research assistant server binary.
// It serves the query API over HTTP, or the MCP tools over stdio.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/finresearch/research-assistant/internal/config"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
	"github.com/finresearch/research-assistant/internal/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "research-server",
		Short: "Financial research assistant server",
		Long: `Research Server answers questions about financial filings with cited sources.

The server exposes:
  - HTTP API on :8000 (configurable) for queries, costs and documents
  - Prometheus metrics on /metrics
  - MCP over streamable HTTP on /mcp when enabled

Examples:
  research-server                          # Start with defaults
  research-server --port 9000              # Custom HTTP port
  research-server -c config.toml           # Load a config file
  research-server mcp                      # Serve MCP tools over stdio`,
		RunE:         runServer,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (.yaml or .toml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().String("qdrant", "", "Qdrant URL (overrides config)")
	rootCmd.Flags().Int("port", 8000, "HTTP server port")
	rootCmd.Flags().String("host", "0.0.0.0", "server host")

	rootCmd.AddCommand(mcpCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig applies the shared flags on top of file and environment config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	qdrantURL, _ := cmd.Flags().GetString("qdrant")
	verbose, _ := cmd.Flags().GetBool("verbose")

	appCfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if qdrantURL != "" {
		appCfg.Qdrant.URL = qdrantURL
	}
	if verbose {
		appCfg.Log.Level = "debug"
	}

	return appCfg, nil
}

func runServer(cmd *cobra.Command, _ []string) error {
	appCfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("port") {
		appCfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("host") {
		appCfg.Host, _ = cmd.Flags().GetString("host")
	}

	log := logger.New(appCfg.Log.Level, appCfg.Log.Format)
	log.Info("Starting Research Server",
		"version", version,
		"port", appCfg.Port,
		"cost_store", appCfg.Cost.Store,
		"bus", appCfg.Bus.Type,
	)

	srvCfg := server.DefaultConfig()
	srvCfg.Host = appCfg.Host
	srvCfg.Port = appCfg.Port
	srvCfg.Version = version

	srv, err := server.New(srvCfg, appCfg, log)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			_ = srv.Stop(context.Background())
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		return err
	}
	return <-errCh
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the research tools over MCP stdio",
		Long: `Serve ask_research_question, get_cost_summary and list_documents to an
MCP client over stdin/stdout. Logs go to stderr so they never corrupt the
protocol stream.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			log := logger.NewWithWriter(os.Stderr, appCfg.Log.Level, appCfg.Log.Format)

			components, err := server.Build(appCfg, version, log)
			if err != nil {
				return fmt.Errorf("failed to build components: %w", err)
			}
			defer func() {
				if err := components.Close(); err != nil {
					log.Warn("Closing components failed", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
			defer stop()

			if err := components.MCP.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("research-server %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}
