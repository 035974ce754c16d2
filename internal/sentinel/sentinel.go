// Package sentinel implements the side channel through which the engine
// reports fatal startup failures to its supervisor.
//
// The engine writes a JSON object with at least a "message" field to an agreed
// path. Anything else found at that path, including an empty or malformed
// file, means no fatal error occurred.
package sentinel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

const defaultMessage = "engine reported a fatal error"

// EngineError is the structured record the engine leaves behind on fatal failure.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (code %s)", e.Message, e.Code)
	}
	return e.Message
}

// Channel is the contract shared by the supervisor and the engine.
type Channel interface {
	// Path is the location handed to the engine.
	Path() string
	// Check reports the fatal record, if one has been written.
	Check() (*EngineError, bool)
	// Close releases the channel's backing resources.
	Close() error
}

// FileChannel is a Channel backed by a uniquely named temp file.
type FileChannel struct {
	path string
}

// NewFile allocates an empty sentinel file in dir (os.TempDir when empty).
func NewFile(dir string) (*FileChannel, error) {
	f, err := os.CreateTemp(dir, "orgrender-sentinel-*.json")
	if err != nil {
		return nil, fmt.Errorf("create sentinel file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close sentinel file: %w", err)
	}
	return &FileChannel{path: path}, nil
}

// Path returns the sentinel file location.
func (c *FileChannel) Path() string {
	return c.path
}

// Check reads and parses the sentinel file.
func (c *FileChannel) Check() (*EngineError, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, false
	}
	return Parse(data)
}

// Close removes the sentinel file.
func (c *FileChannel) Close() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove sentinel file: %w", err)
	}
	return nil
}

type record struct {
	Message *string         `json:"message"`
	Code    json.RawMessage `json:"code"`
}

// Parse decodes a sentinel payload. Only a JSON object counts as a record.
func Parse(data []byte) (*EngineError, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, false
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	msg := defaultMessage
	if rec.Message != nil && strings.TrimSpace(*rec.Message) != "" {
		msg = strings.TrimSpace(*rec.Message)
	}
	return &EngineError{Message: msg, Code: codeString(rec.Code)}, true
}

func codeString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
