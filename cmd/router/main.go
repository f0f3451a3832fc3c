// Command router runs the multi-agent query router.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sweetpotato0/ai-router/config"
	"github.com/sweetpotato0/ai-router/mcpserver"
	"github.com/sweetpotato0/ai-router/pkg/logging"
	"github.com/sweetpotato0/ai-router/pkg/telemetry"
	"github.com/sweetpotato0/ai-router/server"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "router",
		Short:         "Multi-agent query router",
		Long:          `router delegates each user query to specialist agents and synthesizes their replies into one answer.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(endSessionCmd())
	rootCmd.AddCommand(mcpCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serveCmd runs the HTTP API.
func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Init(ctx, telemetry.Config{
				ServiceName:    telemetry.ServiceName,
				ServiceVersion: version,
				Environment:    cfg.Environment,
				Disable:        cfg.TelemetryDisable,
				Logger:         logging.WithComponent("telemetry"),
			})
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer flush(shutdown)

			a, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			opts := []server.Option{
				server.WithCORSOrigins(cfg.CORSOrigins...),
				server.WithSecureCookies(cfg.Environment == "production"),
			}
			for name, check := range a.checks {
				opts = append(opts, server.WithHealthCheck(name, check))
			}
			srv := server.New(a.router, a.transcripts, a.events, opts...)
			return srv.ListenAndServe(ctx, cfg.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides ROUTER_ADDR)")
	return cmd
}

// askCmd runs one turn from the command line.
func askCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Ask one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if sessionID == "" {
				sessionID = uuid.NewString()
				fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", sessionID)
			}
			result, err := a.router.HandleTurn(ctx, sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if result.PersistErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", result.PersistErr)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Answer)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing session")
	return cmd
}

// endSessionCmd releases a session's agents and thread.
func endSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end-session <session-id>",
		Short: "End a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			ended, err := a.router.EndSession(ctx, args[0])
			if err != nil {
				return err
			}
			if ended {
				fmt.Fprintln(cmd.OutOrStdout(), "Session ended")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No active session")
			}
			return nil
		},
	}
}

// mcpCmd serves the router as MCP tools over stdio.
func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout carries the protocol.
			logging.SetLogger(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: logging.ParseLevel(os.Getenv("ROUTER_LOG_LEVEL")),
			})).With("service", telemetry.ServiceName))

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			return mcpserver.Serve(ctx, mcpserver.NewServer(a.router, mcpserver.WithImplementation("ai-router", version)))
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func flush(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logging.WithComponent("telemetry").Warn("flush traces failed", "error", err)
	}
}
