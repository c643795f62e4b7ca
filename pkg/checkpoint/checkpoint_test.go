package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func TestLoadMissing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent.json"))
	_, ok := s.Load()
	assert.False(t, ok)
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	assert.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	s := NewStore(path)
	_, ok := s.Load()
	assert.False(t, ok)
}

func TestLoadPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	assert.NoError(t, os.WriteFile(path, []byte(`{"log_file":"mysql-bin.000001"}`), 0o644))
	s := NewStore(path)
	_, ok := s.Load()
	assert.False(t, ok)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s := NewStore(path)
	pos := Position{LogFile: "mysql-bin.000042", LogPos: 1874}
	assert.NoError(t, s.Save(pos))

	got, ok := s.Load()
	assert.True(t, ok)
	assert.Equal(t, pos, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	assert.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp file after a successful save")
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s := NewStore(path)
	assert.NoError(t, s.Save(Position{LogFile: "mysql-bin.000001", LogPos: 4}))
	assert.NoError(t, s.Save(Position{LogFile: "mysql-bin.000002", LogPos: 900}))

	got, ok := s.Load()
	assert.True(t, ok)
	assert.Equal(t, Position{LogFile: "mysql-bin.000002", LogPos: 900}, got)
}
