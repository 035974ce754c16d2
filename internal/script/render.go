package script

import (
	"fmt"
	"strings"
)

// Directives evaluated through the client against a running daemon.
const (
	PingDirective = `(message "ping")`
	KillDirective = `(kill-emacs)`
)

// BootstrapParams carries the settings embedded into the daemon bootstrap
// script. Empty fields render as empty strings.
type BootstrapParams struct {
	CacheDir    string
	UserConfig  string
	Theme       string
	Common      string
	DebugFile   string
	Htmlize     bool
	LineNumber  bool
	EntryScript string
}

// BootstrapSource returns the readable multi-line bootstrap script.
func BootstrapSource(p BootstrapParams) string {
	var b strings.Builder
	b.WriteString("(progn\n")
	b.WriteString("  ;; user settings\n")
	fmt.Fprintf(&b, "  (setq hexo-renderer-org-cachedir \"%s\")\n", EscapePath(p.CacheDir))
	fmt.Fprintf(&b, "  (setq hexo-renderer-org-user-config \"%s\")\n", EscapePath(p.UserConfig))
	fmt.Fprintf(&b, "  (setq hexo-renderer-org-theme \"%s\")\n", EscapeString(p.Theme))
	fmt.Fprintf(&b, "  (setq hexo-renderer-org-common-block \"%s\")\n", EscapeString(p.Common))
	fmt.Fprintf(&b, "  (setq hexo-renderer-org--debug-file \"%s\")\n", EscapePath(p.DebugFile))
	fmt.Fprintf(&b, "  (setq hexo-renderer-org--use-htmlize  %s)\n", Bool(p.Htmlize))
	fmt.Fprintf(&b, "  (setq org-hexo-use-htmlize  %s)\n", Bool(p.Htmlize))
	fmt.Fprintf(&b, "  (setq org-hexo-use-line-number  %s)\n", Bool(p.LineNumber))
	b.WriteString("  ;; entry point\n")
	fmt.Fprintf(&b, "  (load \"%s\"))\n", EscapePath(p.EntryScript))
	return b.String()
}

// Bootstrap returns the collapsed bootstrap script passed to --eval.
func Bootstrap(p BootstrapParams) string {
	return Collapse(BootstrapSource(p))
}

// RequestSource returns the readable per-request script. It renders source
// into output and then closes the client frame.
func RequestSource(source, output string) string {
	var b strings.Builder
	b.WriteString("(progn\n")
	b.WriteString("  ;; render according to args\n")
	fmt.Fprintf(&b, "  (hexo-renderer-org '(:file \"%s\"\n", EscapePath(source))
	fmt.Fprintf(&b, "                       :output-file \"%s\"))\n", EscapePath(output))
	b.WriteString("  ;; release the frame\n")
	b.WriteString("  (delete-frame))\n")
	return b.String()
}

// Request returns the collapsed per-request script passed to the client.
func Request(source, output string) string {
	return Collapse(RequestSource(source, output))
}
