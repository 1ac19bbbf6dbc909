// Package stamp persists a content marker per output directory so pipeline
// stages can skip regeneration when the directory was last produced from the
// same exact source.
package stamp

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// RecordName is the marker file written inside a stamped directory. It holds
// exactly the exact-source identifier string used to produce the directory's
// contents, no other metadata.
const RecordName = ".source-stamp"

// Store reads and writes directory stamps.
type Store struct {
	logger *zap.Logger
}

// NewStore creates a stamp store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{logger: logger}
}

// IsStamped reports whether dir exists and its stamp record equals sourceID
// exactly. Comparison is plain string equality, no normalization: any
// difference in URL or revision invalidates the directory.
func (s *Store) IsStamped(dir, sourceID string) bool {
	data, err := os.ReadFile(filepath.Join(dir, RecordName))
	if err != nil {
		return false
	}
	return strings.TrimSuffix(string(data), "\n") == sourceID
}

// Stamp writes or overwrites the stamp record for dir. Callers must only
// stamp after the directory's full contents are correct; stamping earlier
// would let a crash leave a falsely valid stamp.
func (s *Store) Stamp(dir, sourceID string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, RecordName), []byte(sourceID+"\n"), 0o644); err != nil {
		return err
	}
	s.logger.Debug("Directory stamped",
		zap.String("dir", dir),
		zap.String("source_id", sourceID),
	)
	return nil
}

// Clear destroys a stale directory entirely. A directory that does not exist
// yet is not an error.
func (s *Store) Clear(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	s.logger.Debug("Directory cleared", zap.String("dir", dir))
	return nil
}
