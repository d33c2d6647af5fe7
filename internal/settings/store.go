package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"interruptd/internal/logger"
	"interruptd/internal/storage"
)

// Store owns the persisted settings document. Reads return a snapshot;
// mutations go through ApplyPatch which persists before publishing.
type Store struct {
	path string
	log  logger.Logger

	mu  sync.RWMutex
	cur Settings
}

func NewStore(path string, log logger.Logger) *Store {
	return &Store{
		path: path,
		log:  log,
		cur:  Default(),
	}
}

// Load reads the settings file, merging it over defaults so a partial
// document (or a missing one) still yields a complete configuration.
func (s *Store) Load() error {
	loaded := Default()

	raw, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		// First boot: defaults apply until something is persisted.
	case err != nil:
		return fmt.Errorf("failed to read settings: %w", err)
	default:
		var patch Patch
		if err := json.Unmarshal(raw, &patch); err != nil {
			return fmt.Errorf("failed to parse settings: %w", err)
		}
		loaded = loaded.Apply(patch)
	}

	s.mu.Lock()
	s.cur = loaded
	s.mu.Unlock()
	return nil
}

// Reload is the file-watch callback; a broken document on disk keeps the
// last good settings in memory.
func (s *Store) Reload() {
	if err := s.Load(); err != nil {
		s.log.Errorw("Failed to reload settings, keeping previous", "error", err)
		return
	}
	s.log.Infow("Settings reloaded from disk")
}

func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// ApplyPatch merges the patch into the current document, persists the
// result, and publishes it.
func (s *Store) ApplyPatch(p Patch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur.Apply(p)
	if err := s.persist(next); err != nil {
		return s.cur, err
	}
	s.cur = next
	return next, nil
}

func (s *Store) persist(v Settings) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return storage.WriteWithBackup(s.path, append(data, '\n'))
}
