package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voxassist/mcpbridge-go/pkg/logging"
	"github.com/voxassist/mcpbridge-go/pkg/mcpbridge"
)

// Set via ldflags at build time.
var version = "dev"

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:          "mcpbridge",
	Short:        "Supervise MCP tool servers and aggregate their tools",
	Long:         "mcpbridge launches the tool servers declared in an mcpServers configuration file, aggregates their advertised tools under qualified names, and routes invocations to the owning server.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mcp-config.json", "path to the mcpServers configuration file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("mcpbridge version %s\n", version))

	rootCmd.AddCommand(newToolsCmd())
	rootCmd.AddCommand(newCallCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	if verbose {
		if logger, err := logging.New("debug", true); err == nil {
			return logger
		}
	}
	return logging.NewDefault()
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Connect to every configured server and list the aggregated tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			manager := mcpbridge.NewManager(&mcpbridge.Options{Logger: logger})
			defer manager.Cleanup(context.Background())

			if err := manager.LoadServers(cmd.Context(), configPath); err != nil {
				return err
			}
			for _, tool := range manager.Tools() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", tool.QualifiedName, tool.Description)
			}
			return nil
		},
	}
}

func newCallCmd() *cobra.Command {
	var argsJSON string
	cmd := &cobra.Command{
		Use:   "call <qualified-tool>",
		Short: "Invoke one aggregated tool and print its text result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arguments map[string]any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &arguments); err != nil {
					return fmt.Errorf("parse --args: %w", err)
				}
			}

			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			manager := mcpbridge.NewManager(&mcpbridge.Options{Logger: logger})
			defer manager.Cleanup(context.Background())

			if err := manager.LoadServers(cmd.Context(), configPath); err != nil {
				return err
			}
			text, err := manager.CallTool(cmd.Context(), args[0], arguments)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "tool arguments as a JSON object")
	return cmd
}
