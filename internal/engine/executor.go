package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Command describes one engine or client process.
type Command struct {
	Binary string
	Args   []string
	// Inherit connects the process to this process's stdio. The engine's
	// syntax highlighting needs a terminal.
	Inherit bool
	// Detached puts the process in its own process group so an interrupt
	// aimed at us does not reach it, and ignores context cancellation.
	Detached bool
}

// Process is a started command.
type Process interface {
	Pid() int
	Wait() error
}

// Executor abstracts process execution for testability.
type Executor interface {
	Start(ctx context.Context, cmd Command) (Process, error)
	Run(ctx context.Context, cmd Command) error
}

// CommandExecutor runs commands with os/exec.
type CommandExecutor struct{}

// Start launches cmd without waiting for it.
func (CommandExecutor) Start(ctx context.Context, c Command) (Process, error) {
	var cmd *exec.Cmd
	if c.Detached {
		cmd = exec.Command(c.Binary, c.Args...) //nolint:gosec
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	} else {
		cmd = exec.CommandContext(ctx, c.Binary, c.Args...) //nolint:gosec
	}

	proc := &osProcess{cmd: cmd}
	if c.Inherit {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stderr = &proc.stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Binary, err)
	}
	return proc, nil
}

// Run launches cmd and waits for it to exit.
func (e CommandExecutor) Run(ctx context.Context, c Command) error {
	proc, err := e.Start(ctx, c)
	if err != nil {
		return err
	}
	return proc.Wait()
}

type osProcess struct {
	cmd    *exec.Cmd
	stderr bytes.Buffer
}

func (p *osProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *osProcess) Wait() error {
	err := p.cmd.Wait()
	if err == nil {
		return nil
	}
	if detail := strings.TrimSpace(p.stderr.String()); detail != "" {
		return fmt.Errorf("%w: %s", err, lastLine(detail))
	}
	return err
}

func lastLine(s string) string {
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[idx+1:])
	}
	return s
}
