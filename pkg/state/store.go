package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/siegeup/hostagent/pkg/log"
	"github.com/siegeup/hostagent/pkg/types"
)

const settingsFile = "settings.json"

// Store owns the persisted desired-server set. The file is rewritten in
// full on every mutation; readers always see the in-memory copy, never the
// file.
type Store struct {
	mu      sync.RWMutex
	path    string
	servers []types.DesiredServer
}

// NewStore creates a store persisting into <baseDir>/settings.json.
func NewStore(baseDir string) *Store {
	return &Store{path: filepath.Join(baseDir, settingsFile)}
}

// Load reads the settings file. A missing or unparsable file resets the
// desired set to empty and rewrites the file.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read settings: %w", err)
		}
		s.servers = nil
		return s.persistLocked()
	}

	var settings types.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		logger := log.WithComponent("state")
		logger.Warn().Err(err).Msg("Settings file unparsable, resetting to empty set")
		s.servers = nil
		return s.persistLocked()
	}

	s.servers = settings.Servers
	return nil
}

// Servers returns a copy of the desired set in configured order.
func (s *Store) Servers() []types.DesiredServer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.DesiredServer, len(s.servers))
	copy(out, s.servers)
	return out
}

// Get returns the desired entry for a port.
func (s *Store) Get(port int) (types.DesiredServer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, srv := range s.servers {
		if srv.Port == port {
			return srv, true
		}
	}
	return types.DesiredServer{}, false
}

// Replace swaps in a new desired set and persists it.
func (s *Store) Replace(servers []types.DesiredServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.servers = servers
	return s.persistLocked()
}

// persistLocked writes the full settings document via a temp file rename so
// a crash mid-write never leaves a torn file.
func (s *Store) persistLocked() error {
	servers := s.servers
	if servers == nil {
		servers = []types.DesiredServer{}
	}
	data, err := json.MarshalIndent(types.Settings{Servers: servers}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}
