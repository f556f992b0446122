package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Persistence handles the disk I/O for the MemStore: one JSON snapshot
// file per model. The durable replication state (change log, checkpoints,
// sync state) lives in the changelog database, not here.
type Persistence struct {
	DataDir string
	mu      sync.Mutex // Protects concurrent writes to the filesystem
}

// NewPersistence initializes a persistence handler.
func NewPersistence(dir string) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Persistence{DataDir: dir}, nil
}

// SaveModel writes a single model's records to a JSON file atomically.
func (p *Persistence) SaveModel(model string, records map[string]map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	filePath := filepath.Join(p.DataDir, fmt.Sprintf("%s.json", model))
	tempPath := filePath + ".tmp"

	bytes, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, bytes, 0644); err != nil {
		return err
	}

	// Atomic rename: after a crash there is either the old snapshot or
	// the new one, never a torn file.
	return os.Rename(tempPath, filePath)
}

// LoadAll returns all model snapshots found in the data directory.
func (p *Persistence) LoadAll() (map[string]map[string]map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	allData := make(map[string]map[string]map[string]any)

	files, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}
		model := strings.TrimSuffix(file.Name(), ".json")

		content, err := os.ReadFile(filepath.Join(p.DataDir, file.Name()))
		if err != nil {
			log.Printf("Warning: could not read model snapshot %s: %v", file.Name(), err)
			continue // Skip corrupted/unreadable files
		}

		var records map[string]map[string]any
		if err := json.Unmarshal(content, &records); err != nil {
			log.Printf("Warning: could not unmarshal model snapshot %s: %v", file.Name(), err)
			continue
		}
		allData[model] = records
	}

	return allData, nil
}
