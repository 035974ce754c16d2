package deps

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"orgrender/internal/config"
)

// Requirement defines an external dependency orgrender relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// EngineRequirements lists the binaries needed to run the engine daemon.
func EngineRequirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "Emacs", Command: cfg.Engine.Emacs, Description: "engine daemon"},
		{Name: "Emacs client", Command: cfg.Engine.EmacsClient, Description: "render, ping, and stop directives"},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		if err := unix.Access(resolved, unix.X_OK); err != nil {
			status.Detail = fmt.Sprintf("binary %q not executable: %v", resolved, err)
			results = append(results, status)
			continue
		}
		status.Command = resolved
		status.Available = true
		results = append(results, status)
	}
	return results
}

// CheckEntryScript reports which engine entry script would be loaded.
func CheckEntryScript(candidates []string) Status {
	status := Status{Name: "Entry script", Description: "hexo-renderer-org.el"}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			status.Command = candidate
			status.Available = true
			return status
		}
	}
	if len(candidates) > 0 {
		status.Command = candidates[len(candidates)-1]
	}
	status.Detail = fmt.Sprintf("none of %d candidate locations exist", len(candidates))
	return status
}
