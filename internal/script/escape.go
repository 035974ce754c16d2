package script

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	commentLine = regexp.MustCompile(`(?m)^[ \t]*;.*$`)
	lineBreak   = regexp.MustCompile(`\r?\n|\r`)
)

// EscapePath prepares a filesystem path for embedding inside an elisp string
// literal. Separators are normalized to forward slashes, quotes escaped, and
// line breaks encoded.
func EscapePath(path string) string {
	path = norm.NFC.String(path)
	path = strings.ReplaceAll(path, `\`, "/")
	path = strings.ReplaceAll(path, `"`, `\"`)
	return escapeLineBreaks(path)
}

// EscapeString escapes a value for an elisp string literal. Line breaks
// become the two-character sequences \n and \r so Collapse leaves the value
// intact.
func EscapeString(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `"`, `\"`)
	return escapeLineBreaks(value)
}

func escapeLineBreaks(value string) string {
	value = strings.ReplaceAll(value, "\r\n", "\n")
	value = strings.ReplaceAll(value, "\n", `\n`)
	return strings.ReplaceAll(value, "\r", `\r`)
}

// Bool converts a Go boolean to the elisp literals t and nil.
func Bool(b bool) string {
	if b {
		return "t"
	}
	return "nil"
}

// Collapse removes comment lines and all line breaks so the script can be
// passed as one command-line argument.
func Collapse(source string) string {
	source = commentLine.ReplaceAllString(source, "")
	return lineBreak.ReplaceAllString(source, "")
}
