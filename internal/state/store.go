package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Store persists GlobalState snapshots to a single JSON file.
// Writes go to a temporary sibling path followed by an atomic rename, so a
// crash at any point leaves the previously committed snapshot loadable.
type Store struct {
	path   string
	logger zerolog.Logger
}

// NewStore creates a snapshot store at path.
func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With().Str("component", "state.store").Logger(),
	}
}

// Load reads the snapshot from disk. A missing file yields an empty state;
// malformed content is logged and replaced with an empty state. Load never
// surfaces content problems to the caller.
func (s *Store) Load() *GlobalState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error().Err(err).Msg("state read failed, starting empty")
		}
		return NewGlobalState()
	}

	st := NewGlobalState()
	if err := json.Unmarshal(data, st); err != nil {
		s.logger.Error().Err(err).Msg("state load failed, creating new state")
		return NewGlobalState()
	}
	if st.Chats == nil {
		st.Chats = make(map[int64]*ChatState)
	}
	if st.Offset < 0 {
		st.Offset = 0
	}
	return st
}

// Save serializes the full snapshot and atomically replaces the destination.
// The caller treats a failure as non-fatal: state stays in memory and the
// write is retried on the next mutating cycle.
func (s *Store) Save(st *GlobalState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
