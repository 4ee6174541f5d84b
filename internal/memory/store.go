package memory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// maxReadChars caps how much of the file is honored on load; anything past
// the document bound is the product of outside edits and is dropped.
const maxReadChars = 2 * MaxChars

// Store persists the memory document to a single file using the same
// temp-file + atomic-rename discipline as the state snapshot.
type Store struct {
	path   string
	logger zerolog.Logger
}

// NewStore creates a document store at path.
func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With().Str("component", "memory.store").Logger(),
	}
}

// Load reads the document. A missing file is empty content, not an error;
// read failures are logged and degrade to empty.
func (s *Store) Load() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error().Err(err).Msg("memory read failed, treating as empty")
		}
		return ""
	}
	return clampRunes(string(data), maxReadChars)
}

// Save atomically writes the document. Callers skip the call when the
// document is unchanged; a failed write is non-fatal and retried on the next
// update.
func (s *Store) Save(doc string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("write temp memory: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace memory: %w", err)
	}
	return nil
}
