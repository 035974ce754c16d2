package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"orgrender/internal/daemonctl"
	"orgrender/internal/hostd"
	"orgrender/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startTimeout time.Duration
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the resident orgrender host in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonctl.LaunchOptions{ConfigPath: ctx.configFlagValue(), LogLevel: ctx.logLevel()},
				startTimeout,
			)
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Host started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Host already running (pid %d)\n", result.PID)
			}
			return nil
		},
	}
	startCmd.Flags().DurationVar(&startTimeout, "timeout", 30*time.Second, "How long to wait for the engine daemon to become ready")

	var stopGrace time.Duration
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the engine daemon and the resident host",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.configValue(), stopGrace)
			if errors.Is(err, daemonctl.ErrHostNotRunning) {
				fmt.Fprintln(stdout, "Host is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Host did not exit in time; killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Host stopped")
			return nil
		},
	}
	stopCmd.Flags().DurationVar(&stopGrace, "grace", 10*time.Second, "How long to wait for a clean engine shutdown before killing the host")

	var recent int
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show host, engine daemon, dependency, and render history status",
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.configValue(), recent)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			renderStatus(stdout, snapshot, shouldColorize(stdout))
			return nil
		},
	}
	statusCmd.Flags().IntVar(&recent, "recent", 10, "Number of recent renders to list")

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the host's engine daemon answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Ping()
				if err != nil {
					return err
				}
				if !resp.Ready {
					return fmt.Errorf("engine daemon not ready: %s", resp.Message)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "pong")
				return nil
			})
		},
	}

	return []*cobra.Command{startCmd, stopCmd, statusCmd, pingCmd}
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var development bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the resident host in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return hostd.Run(cmd.Context(), cfg, hostd.Options{
				LogLevel:    ctx.logLevel(),
				Development: development,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "development", false, "Include source locations in log output")
	return cmd
}
