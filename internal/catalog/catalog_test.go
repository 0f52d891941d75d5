package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thestuu/engine/internal/persistence"
	"github.com/thestuu/engine/internal/project"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordSaveUpserts(t *testing.T) {
	s := openTestStore(t)
	p := project.Default("Alpha", 128)
	p.Playlist = append(p.Playlist, project.Track{TrackID: 1, Name: "Drums"})

	s.RecordSave("/tmp/alpha.stu", p)
	s.RecordSave("/tmp/alpha.stu", p) // second save updates, no duplicate

	entries, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Alpha", entries[0].Title)
	assert.Equal(t, 128, entries[0].BPM)
	assert.Equal(t, 1, entries[0].TrackCount)
}

func TestRecentOrdersByModification(t *testing.T) {
	s := openTestStore(t)
	s.RecordSave("/tmp/a.stu", project.Default("First", 120))
	s.RecordSave("/tmp/b.stu", project.Default("Second", 120))

	entries, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/tmp/b.stu", entries[0].Path)
}

func TestRescanIndexesAndPrunes(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()

	p := project.Default("On Disk", 140)
	path := filepath.Join(dir, "ondisk.stu")
	require.NoError(t, persistence.Save(path, p))

	// A stale entry whose file no longer exists.
	s.RecordSave(filepath.Join(dir, "gone.stu"), project.Default("Gone", 120))

	require.NoError(t, s.Rescan(dir))
	entries, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, path, entries[0].Path)
	assert.Equal(t, "On Disk", entries[0].Title)
	assert.Equal(t, 140, entries[0].BPM)
}

func TestRescanMissingDirIsNotFatal(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Rescan(filepath.Join(t.TempDir(), "nope")))
}
