// Package settings edits the coding agent's configuration files in place.
//
// Both the JSON settings file and the dotenv file are patched rather than
// replaced: keys this package does not manage are carried through unchanged,
// and every write goes to a temporary file that is renamed over the original.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// ErrInvalidFile is returned when an existing file cannot be parsed. The file
// is left untouched.
var ErrInvalidFile = errors.New("invalid settings file")

// MCPServer is one entry of the "mcpServers" object.
type MCPServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	// Timeout is in milliseconds.
	Timeout int  `json:"timeout,omitempty"`
	Trust   bool `json:"trust,omitempty"`
}

// Patch is a partial update of settings.json. Nil fields are left alone.
type Patch struct {
	// MCPServers entries replace any existing entry with the same name.
	MCPServers       map[string]MCPServer
	SelectedAuthType *string
	Model            *string
}

// Paths locates the agent's configuration files.
type Paths struct {
	Settings string
	Env      string
}

// QwenPaths returns the qwen-code settings and env files under home.
func QwenPaths(home string) Paths {
	dir := filepath.Join(home, ".qwen")
	return Paths{
		Settings: filepath.Join(dir, "settings.json"),
		Env:      filepath.Join(dir, ".env"),
	}
}

// PatchJSON applies patch to the JSON object at path, creating the file if
// it does not exist.
func PatchJSON(path string, patch Patch) error {
	doc := map[string]json.RawMessage{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read %s: %w", path, err)
	case len(bytes.TrimSpace(data)) > 0:
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
		}
	}

	if len(patch.MCPServers) > 0 {
		servers := map[string]json.RawMessage{}
		if raw, ok := doc["mcpServers"]; ok {
			if err := json.Unmarshal(raw, &servers); err != nil {
				return fmt.Errorf("%w: %s: mcpServers: %v", ErrInvalidFile, path, err)
			}
		}
		for name, srv := range patch.MCPServers {
			if err := setKey(servers, name, srv); err != nil {
				return err
			}
		}
		if err := setKey(doc, "mcpServers", servers); err != nil {
			return err
		}
	}
	if patch.SelectedAuthType != nil {
		if err := setKey(doc, "selectedAuthType", *patch.SelectedAuthType); err != nil {
			return err
		}
	}
	if patch.Model != nil {
		if err := setKey(doc, "model", *patch.Model); err != nil {
			return err
		}
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return writeAtomic(path, append(out, '\n'))
}

func setKey(m map[string]json.RawMessage, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	m[key] = raw
	return nil
}

// PatchEnv merges updates into the dotenv file at path, creating it if it
// does not exist. Existing variables not named in updates are kept.
func PatchEnv(path string, updates map[string]string) error {
	env := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		env, err = godotenv.Read(path)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	for k, v := range updates {
		env[k] = v
	}

	content, err := godotenv.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return writeAtomic(path, []byte(content+"\n"))
}

// writeAtomic replaces path with data. The file keeps its existing mode, or
// gets 0600 if new, since it may hold credentials.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	mode := fs.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
