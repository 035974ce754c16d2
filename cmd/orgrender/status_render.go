package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"orgrender/internal/daemonctl"
	"orgrender/internal/ipc"
	"orgrender/internal/services"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 16
	statusIndent     = "  "
)

func renderStatus(w io.Writer, snapshot *daemonctl.StatusSnapshot, colorize bool) {
	printSection(w, "Host", colorize)
	for _, line := range hostLines(snapshot, colorize) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	printSection(w, "Dependencies", colorize)
	for _, line := range dependencyLines(snapshot.Dependencies, colorize) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	printSection(w, "Renders", colorize)
	if len(snapshot.RenderStats) == 0 {
		fmt.Fprintln(w, "No renders recorded")
		return
	}
	fmt.Fprint(w, renderTable([]string{"Outcome", "Count"}, renderStatsRows(snapshot.RenderStats), []columnAlignment{alignLeft, alignRight}))
	if len(snapshot.Recent) == 0 {
		return
	}
	rows := make([][]string, 0, len(snapshot.Recent))
	for _, entry := range snapshot.Recent {
		rows = append(rows, []string{
			entry.CreatedAt.Local().Format(time.DateTime),
			filepath.Base(entry.SourcePath),
			entry.Status,
			strconv.Itoa(entry.Attempts),
			entry.Duration.Round(time.Millisecond).String(),
		})
	}
	fmt.Fprint(w, renderTable(
		[]string{"When", "Source", "Outcome", "Attempts", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	))
}

func hostLines(snapshot *daemonctl.StatusSnapshot, colorize bool) []string {
	lines := make([]string, 0, 4)
	if !snapshot.Running {
		lines = append(lines, renderStatusLine("orgrender", statusWarn, "Not running (run `orgrender start`)", colorize))
		lines = append(lines, renderStatusLine("Engine daemon", statusInfo, snapshot.Daemon, colorize))
		return lines
	}
	lines = append(lines, renderStatusLine("orgrender", statusOK, fmt.Sprintf("Running (pid %d)", snapshot.PID), colorize))

	detail := fmt.Sprintf("%s: %s", snapshot.Daemon, snapshot.State)
	kind := statusOK
	switch snapshot.State {
	case "dead":
		kind = statusError
		if reason := strings.TrimSpace(snapshot.Reason); reason != "" {
			detail += " (" + reason + ")"
		}
	case "alive":
		if snapshot.EnginePID > 0 {
			detail += fmt.Sprintf(" (launcher pid %d)", snapshot.EnginePID)
		}
	default:
		kind = statusWarn
	}
	lines = append(lines, renderStatusLine("Engine daemon", kind, detail, colorize))
	if snapshot.StartedAt != "" {
		lines = append(lines, renderStatusLine("Started", statusInfo, snapshot.StartedAt, colorize))
	}
	if snapshot.SentinelPath != "" {
		lines = append(lines, renderStatusLine("Sentinel", statusInfo, snapshot.SentinelPath, colorize))
	}
	return lines
}

func dependencyLines(deps []ipc.DependencyStatus, colorize bool) []string {
	lines := make([]string, 0, len(deps))
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (%s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		lines = append(lines, renderStatusLine(dep.Name, statusKindFromSeverity(dep.Severity), detail, colorize))
	}
	return lines
}

// renderStatsRows orders outcomes with successes first, then alphabetically.
func renderStatsRows(stats map[string]int) [][]string {
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == services.OutcomeSucceeded || keys[j] == services.OutcomeSucceeded {
			return keys[i] == services.OutcomeSucceeded
		}
		return keys[i] < keys[j]
	})
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, strconv.Itoa(stats[key])})
	}
	return rows
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindFromSeverity(severity string) statusKind {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "ok":
		return statusOK
	case "warn":
		return statusWarn
	case "error":
		return statusError
	default:
		return statusInfo
	}
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	default:
		return ansiBlue
	}
}

func printSection(w io.Writer, title string, colorize bool) {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	if colorize {
		line = ansiBlue + line + ansiReset
	}
	fmt.Fprintln(w, line)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
