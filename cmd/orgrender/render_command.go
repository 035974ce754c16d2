package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"orgrender/internal/config"
	"orgrender/internal/hostd"
	"orgrender/internal/invoker"
	"orgrender/internal/ipc"
	"orgrender/internal/services"
)

type renderFunc func(ctx context.Context, req ipc.RenderRequest) (ipc.RenderResponse, error)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	var toStdout bool
	var debug bool
	var local bool

	cmd := &cobra.Command{
		Use:   "render FILE...",
		Short: "Render org files to HTML",
		Long: "Render org files through the resident host when it is running, otherwise\n" +
			"through a short-lived engine daemon started for this command.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			requests, err := buildRenderRequests(args, outDir, toStdout, debug)
			if err != nil {
				return err
			}

			if !local {
				if client, dialErr := ipc.Dial(cfg.SocketPath()); dialErr == nil {
					defer client.Close()
					render := func(_ context.Context, req ipc.RenderRequest) (ipc.RenderResponse, error) {
						resp, err := client.Render(req)
						if err != nil {
							return ipc.RenderResponse{}, err
						}
						return *resp, nil
					}
					return runRenders(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), requests, toStdout, render)
				}
			}
			return renderInProcess(cmd, ctx, cfg, requests, toStdout)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory for rendered files (default: next to each source)")
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "Print rendered HTML to stdout instead of writing files")
	cmd.Flags().BoolVar(&debug, "debug", false, "Log generated scripts and every attempt")
	cmd.Flags().BoolVar(&local, "local", false, "Always start an in-process engine daemon")
	return cmd
}

func renderInProcess(cmd *cobra.Command, ctx *commandContext, cfg *config.Config, requests []ipc.RenderRequest, toStdout bool) error {
	logger, err := ctx.logger()
	if err != nil {
		return err
	}
	host, err := hostd.New(cfg, logger)
	if err != nil {
		return err
	}
	runCtx := cmd.Context()
	if err := host.Start(runCtx); err != nil {
		_ = host.Stop(context.WithoutCancel(runCtx))
		return fmt.Errorf("start engine daemon: %w", err)
	}
	render := func(ctx context.Context, req ipc.RenderRequest) (ipc.RenderResponse, error) {
		res := host.Render(ctx, invoker.Request{Source: req.Source, Output: req.Output, Debug: req.Debug})
		return hostd.RenderResponse(res), nil
	}
	renderErr := runRenders(runCtx, cmd.OutOrStdout(), cmd.ErrOrStderr(), requests, toStdout, render)
	stopErr := host.Stop(context.WithoutCancel(runCtx))
	if renderErr != nil {
		return renderErr
	}
	if stopErr != nil {
		return fmt.Errorf("stop engine daemon: %w", stopErr)
	}
	return nil
}

// runRenders renders each request in order. A dead engine aborts the run;
// other failures are reported and counted.
func runRenders(ctx context.Context, stdout, stderr io.Writer, requests []ipc.RenderRequest, toStdout bool, render renderFunc) error {
	failed := 0
	for _, req := range requests {
		resp, err := render(ctx, req)
		if err != nil {
			return fmt.Errorf("render %s: %w", req.Source, err)
		}
		switch resp.Outcome {
		case services.OutcomeSucceeded:
			if toStdout {
				fmt.Fprint(stdout, resp.Output)
				continue
			}
			fmt.Fprintf(stdout, "Rendered %s -> %s (%s)\n", req.Source, req.Output, attemptLabel(resp.Attempts))
		case services.OutcomeDead:
			return fmt.Errorf("engine daemon is dead: %s", resp.Error)
		default:
			failed++
			fmt.Fprintf(stderr, "Failed %s: %s\n", req.Source, resp.Error)
			if resp.OutputPath != "" {
				fmt.Fprintf(stderr, "  partial output kept at %s\n", resp.OutputPath)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d renders failed", failed, len(requests))
	}
	return nil
}

func buildRenderRequests(args []string, outDir string, toStdout, debug bool) ([]ipc.RenderRequest, error) {
	if toStdout && strings.TrimSpace(outDir) != "" {
		return nil, fmt.Errorf("--stdout and --out are mutually exclusive")
	}
	if outDir != "" {
		expanded, err := config.ExpandPath(outDir)
		if err != nil {
			return nil, fmt.Errorf("resolve output directory: %w", err)
		}
		outDir = expanded
	}
	requests := make([]ipc.RenderRequest, 0, len(args))
	for _, arg := range args {
		source, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", arg, err)
		}
		req := ipc.RenderRequest{Source: source, Debug: debug}
		if !toStdout {
			req.Output = outputPathFor(source, outDir)
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func outputPathFor(source, outDir string) string {
	name := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)) + ".html"
	if outDir == "" {
		return filepath.Join(filepath.Dir(source), name)
	}
	return filepath.Join(outDir, name)
}

func attemptLabel(attempts int) string {
	if attempts == 1 {
		return "1 attempt"
	}
	return fmt.Sprintf("%d attempts", attempts)
}
