package mcpbridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ServerDescriptor declares how one tool-server child process is launched.
// Descriptors are immutable once loaded.
type ServerDescriptor struct {
	Name     string
	Command  string
	Args     []string
	Env      map[string]string
	Cwd      string
	Disabled bool
}

// serverEntry mirrors one value of the standard "mcpServers" JSON object.
type serverEntry struct {
	Command  string            `json:"command"`
	Args     []string          `json:"args"`
	Env      map[string]string `json:"env"`
	Cwd      string            `json:"cwd"`
	Disabled bool              `json:"disabled"`
}

// LoadConfig parses a server configuration file and returns descriptors in
// document order. A relative or absent cwd is resolved against the directory
// containing the file, so spawned processes see a stable working directory
// regardless of the caller's own.
func LoadConfig(path string) ([]ServerDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	var doc struct {
		Servers json.RawMessage `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	if len(doc.Servers) == 0 || bytes.Equal(doc.Servers, []byte("null")) {
		return nil, &ConfigError{Path: path, Err: errors.New("no mcpServers entries")}
	}

	descriptors, err := parseServers(doc.Servers, baseDir)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	if len(descriptors) == 0 {
		return nil, &ConfigError{Path: path, Err: errors.New("no mcpServers entries")}
	}
	return descriptors, nil
}

// parseServers walks the mcpServers object token by token so the document's
// declaration order survives; decoding into a Go map would lose it.
func parseServers(raw json.RawMessage, baseDir string) ([]ServerDescriptor, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("mcpServers must be an object")
	}

	var descriptors []ServerDescriptor
	seen := make(map[string]struct{})
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := keyTok.(string)
		if name == "" {
			return nil, errors.New("server entry with empty name")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate server %q", name)
		}
		seen[name] = struct{}{}

		var entry serverEntry
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("server %q: %w", name, err)
		}
		if entry.Command == "" {
			return nil, fmt.Errorf("server %q: missing command", name)
		}
		descriptors = append(descriptors, ServerDescriptor{
			Name:     name,
			Command:  entry.Command,
			Args:     append([]string(nil), entry.Args...),
			Env:      cloneStringMap(entry.Env),
			Cwd:      resolveCwd(entry.Cwd, baseDir),
			Disabled: entry.Disabled,
		})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return descriptors, nil
}

func resolveCwd(cwd, baseDir string) string {
	if cwd == "" {
		return baseDir
	}
	if filepath.IsAbs(cwd) {
		return cwd
	}
	return filepath.Join(baseDir, cwd)
}

func cloneStringMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	clone := make(map[string]string, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}
