// Package state persists small pieces of bot state between runs.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// WatermarkStore remembers the newest mention id already handled.
// An empty id means nothing has been seen yet.
type WatermarkStore interface {
	Get() (string, error)
	Set(id string) error
}

type MemoryWatermark struct {
	mu sync.RWMutex
	id string
}

func NewMemoryWatermark(initial string) *MemoryWatermark {
	return &MemoryWatermark{id: initial}
}

func (m *MemoryWatermark) Get() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id, nil
}

func (m *MemoryWatermark) Set(id string) error {
	m.mu.Lock()
	m.id = id
	m.mu.Unlock()
	return nil
}

type watermarkFile struct {
	LastSeenID string    `json:"last_seen_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FileWatermark keeps the id in <workspace>/state/<name>.json.
type FileWatermark struct {
	mu   sync.Mutex
	path string
}

func NewFileWatermark(workspace, name string) (*FileWatermark, error) {
	dir := filepath.Join(workspace, "state")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileWatermark{path: filepath.Join(dir, name+".json")}, nil
}

func (f *FileWatermark) Path() string { return f.path }

func (f *FileWatermark) Get() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read watermark: %w", err)
	}
	var wf watermarkFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return "", fmt.Errorf("decode watermark %s: %w", f.path, err)
	}
	return wf.LastSeenID, nil
}

// Set writes through a temp file and rename so readers never see a torn file.
func (f *FileWatermark) Set(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(watermarkFile{LastSeenID: id, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal watermark: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write watermark temp: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace watermark: %w", err)
	}
	return nil
}
