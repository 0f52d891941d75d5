package securefs

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSecureFS(t *testing.T) (*SecureFS, string) {
	t.Helper()
	dir := t.TempDir()
	sfs, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sfs.Close() })
	return sfs, sfs.Root()
}

func TestWriteFileAndReadFile(t *testing.T) {
	sfs, root := setupSecureFS(t)

	path := filepath.Join(root, "take.txt")
	require.NoError(t, sfs.WriteFile(path, []byte("test data"), 0o600))

	data, err := sfs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("test data"), data)
}

func TestExists(t *testing.T) {
	sfs, root := setupSecureFS(t)

	path := filepath.Join(root, "present.txt")
	exists, err := sfs.Exists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, sfs.WriteFile(path, []byte("x"), 0o600))
	exists, err = sfs.Exists(path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRejectsEscapingPaths(t *testing.T) {
	sfs, root := setupSecureFS(t)

	escapes := []string{
		filepath.Join(root, "..", "outside.txt"),
		"../outside.txt",
		"/etc/passwd",
		"a/../../outside.txt",
	}
	for _, p := range escapes {
		err := sfs.WriteFile(p, []byte("nope"), 0o600)
		assert.Error(t, err, "path %q must be rejected", p)
	}
}

func TestRejectsSymlinkEscape(t *testing.T) {
	sfs, root := setupSecureFS(t)
	outside := t.TempDir()

	link := filepath.Join(root, "sneaky")
	require.NoError(t, os.Symlink(outside, link))

	_, err := sfs.Exists(filepath.Join(link, "file.txt"))
	assert.Error(t, err, "a symlink out of the root must not resolve")
}

func TestRelativePathsResolveUnderRoot(t *testing.T) {
	sfs, root := setupSecureFS(t)

	require.NoError(t, sfs.WriteFile("nested/dir/file.txt", []byte("ok"), 0o644))
	data, err := os.ReadFile(filepath.Join(root, "nested", "dir", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
}

func TestReadFileSizeLimit(t *testing.T) {
	sfs, root := setupSecureFS(t)
	sfs.SetMaxReadFileSize(100)

	small := filepath.Join(root, "small.txt")
	require.NoError(t, sfs.WriteFile(small, []byte("small content"), 0o600))
	_, err := sfs.ReadFile(small)
	assert.NoError(t, err)

	large := filepath.Join(root, "large.txt")
	require.NoError(t, sfs.WriteFile(large, bytes.Repeat([]byte("x"), 200), 0o600))
	_, err = sfs.ReadFile(large)
	assert.Error(t, err, "reads past the limit must fail")

	// Zero means unlimited.
	sfs.SetMaxReadFileSize(0)
	_, err = sfs.ReadFile(large)
	assert.NoError(t, err)
}

func TestWriteFileFromStreamsAndBounds(t *testing.T) {
	sfs, root := setupSecureFS(t)

	path := filepath.Join(root, "upload.bin")
	n, err := sfs.WriteFileFrom(path, strings.NewReader("abcdef"), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	_, err = sfs.WriteFileFrom(filepath.Join(root, "big.bin"),
		bytes.NewReader(make([]byte, 50)), 10)
	require.Error(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "failed writes must not leave temp files")
		assert.NotEqual(t, "big.bin", e.Name(), "an oversize write must not land")
	}
}

func TestWriteIsAtomicReplace(t *testing.T) {
	sfs, root := setupSecureFS(t)

	path := filepath.Join(root, "doc.txt")
	require.NoError(t, sfs.WriteFile(path, []byte("first"), 0o644))
	require.NoError(t, sfs.WriteFile(path, []byte("second"), 0o644))

	data, err := sfs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}
