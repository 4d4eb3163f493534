package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// ErrInvalidFile reports that the on-disk config file does not parse.
// Mutating operations must refuse to proceed in that state rather than
// clobber whatever the operator is mid-editing.
var ErrInvalidFile = errors.New("config file is invalid")

// FileSnapshot is a point-in-time parse of the on-disk config file,
// independent of the last committed in-memory config.
type FileSnapshot struct {
	Valid  bool
	Config *Config
	Err    error
}

// writeMu serializes config file writes across the process.
var writeMu sync.Mutex

// FileSnapshot re-reads and parses the config file. A missing file counts
// as a valid empty config (first-run experience).
func (m *Manager) FileSnapshot() FileSnapshot {
	b, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileSnapshot{Valid: true, Config: &Config{}}
		}
		return FileSnapshot{Err: err}
	}
	cfg, err := parseBytes(m.path, b)
	if err != nil {
		return FileSnapshot{Err: err}
	}
	return FileSnapshot{Valid: true, Config: cfg}
}

// WriteFile applies mutate to a fresh parse of the config file and writes
// the result back atomically. It refuses to proceed when the on-disk file
// is invalid, and runs the validator (if any) before committing.
func (m *Manager) WriteFile(ctx context.Context, mutate func(cfg *Config) error) error {
	writeMu.Lock()
	defer writeMu.Unlock()

	snap := m.FileSnapshot()
	if !snap.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidFile, snap.Err)
	}
	cfg := snap.Config

	if err := mutate(cfg); err != nil {
		return err
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			return fmt.Errorf("config rejected: %w", err)
		}
	}

	b, err := encodeConfig(m.path, cfg)
	if err != nil {
		return err
	}
	if err := atomicWrite(m.path, b); err != nil {
		return err
	}

	m.Commit(cfg)
	m.publish(cfg)
	return nil
}

func encodeConfig(path string, cfg *Config) ([]byte, error) {
	if isYAMLPath(path) {
		return yaml.Marshal(cfg)
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// best-effort cleanup when rename never happened
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
