// Package checkpoint persists the binlog consumer's last committed
// position so a restart resumes without gaps or reorderings.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/mdbcdc/replicator/pkg/utils"
)

// Position is the pair the consumer advances at every transaction commit.
type Position struct {
	LogFile string `json:"log_file"`
	LogPos  uint32 `json:"log_pos"`
}

// Store persists a Position to a file, atomically via temp-then-rename.
// A Store is not safe for concurrent Save calls; the binlog consumer is
// single-threaded and is the only writer.
type Store struct {
	path string
}

// NewStore returns a Store backed by path. The file is not touched until
// Load or Save is called.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the persisted Position and true if path holds a well-formed
// checkpoint, or a zero Position and false otherwise — including when the
// file is absent, truncated, or holds a value with the wrong types. Corrupt
// content is treated the same as a missing file and triggers a full
// snapshot on first run, rather than being surfaced as an error.
func (s *Store) Load() (Position, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Position{}, false
	}
	var raw struct {
		LogFile *string `json:"log_file"`
		LogPos  *int64  `json:"log_pos"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Position{}, false
	}
	if raw.LogFile == nil || raw.LogPos == nil || *raw.LogPos < 0 {
		return Position{}, false
	}
	return Position{LogFile: *raw.LogFile, LogPos: uint32(*raw.LogPos)}, true
}

// Save writes pos atomically: it serializes to a sibling temp file in the
// same directory, then renames over path. A crash or power loss mid-write
// never leaves a truncated checkpoint in place of a valid one — the reader
// observes either the complete prior version or the complete new one.
//
// Save returns IO errors to the caller. The binlog consumer does not treat
// them as fatal: it keeps running and the next commit retries the save. A
// failed save of the snapshot cut at startup stops the engine.
func (s *Store) Save(pos Position) error {
	data, err := json.Marshal(struct {
		LogFile string `json:"log_file"`
		LogPos  uint32 `json:"log_pos"`
	}{pos.LogFile, pos.LogPos})
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		utils.ErrInErr(tmp.Close())
		utils.ErrInErr(os.Remove(tmpName))
		return err
	}
	if err := tmp.Close(); err != nil {
		utils.ErrInErr(os.Remove(tmpName))
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		utils.ErrInErr(os.Remove(tmpName))
		return err
	}
	return nil
}
