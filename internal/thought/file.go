package thought

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filename returns the canonical file name for a snapshot: {id}.json
func (s *Snapshot) Filename() string {
	return fmt.Sprintf("%s.json", s.ID)
}

// ReadFile parses a snapshot JSON file. A file without an id takes its id
// from the file name.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read thought file %s: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse thought file %s: %w", path, err)
	}
	if strings.TrimSpace(snap.ID) == "" {
		snap.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := snap.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid thought file %s: %w", path, err)
	}
	return &snap, nil
}

// WriteFile writes a thought to dir/{id}.json as indented JSON.
func WriteFile(dir string, t Thought) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("cannot write invalid thought: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	snap := t.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal thought %s: %w", t.ID, err)
	}

	// Write via a temp file so directory watchers never see a partial file.
	path := filepath.Join(dir, snap.Filename())
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}
	return path, nil
}
