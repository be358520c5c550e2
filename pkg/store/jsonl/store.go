package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/nstogner/autoassist/pkg/store"
)

const fileName = "assistants.jsonl"

// maxLineSize bounds a single assistant record. Inlined attachments make lines large.
const maxLineSize = 64 << 20

// Store implements store.AgentStore with one JSON line per assistant.
type Store struct {
	rootDir  string
	filePath string
	mu       sync.Mutex
	*store.Broadcaster
}

// Verify interface compliance.
var (
	_ store.AgentStore = (*Store)(nil)
	_ store.Watcher    = (*Store)(nil)
)

// New creates a Store rooted at rootDir.
func New(rootDir string) (*Store, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{
		rootDir:     rootDir,
		filePath:    filepath.Join(rootDir, fileName),
		Broadcaster: store.NewBroadcaster(),
	}, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.filePath }

// LoadAll reads every assistant. A missing file is an empty collection.
func (s *Store) LoadAll(ctx context.Context) ([]store.Assistant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *Store) readLocked() ([]store.Assistant, error) {
	f, err := os.Open(s.filePath)
	if os.IsNotExist(err) {
		return []store.Assistant{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	assistants := []store.Assistant{}
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var a store.Assistant
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			// Every save rewrites the whole file, so a skipped record would be lost.
			slog.Error("Malformed assistant record", "path", s.filePath, "line", line, "error", err)
			return nil, fmt.Errorf("%w: %s line %d: %w", store.ErrCorrupt, s.filePath, line, err)
		}
		assistants = append(assistants, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return assistants, nil
}

// SaveAll replaces the collection. The file is rewritten through a temporary
// file and a rename so readers never observe a partial write.
func (s *Store) SaveAll(ctx context.Context, assistants []store.Assistant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.readLocked()
	if err != nil {
		slog.Debug("Could not read previous assistants for change detection", "error", err)
	}

	tmp, err := os.CreateTemp(s.rootDir, fileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, a := range assistants {
		if err := enc.Encode(a); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode assistant %d: %w", a.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.filePath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.filePath, err)
	}

	s.PublishChanged(prev, assistants)
	return nil
}
