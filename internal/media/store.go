package media

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/thestuu/engine/internal/securefs"
)

// Store streams body into the managed media directory under a
// collision-free name derived from filename, enforcing maxBytes. All
// writes go through the root-confined filesystem, so neither the
// sanitized name nor any later path handling can land a byte outside the
// media directory; the write is atomic, so a truncated upload never
// leaves a partial source behind.
func Store(sfs *securefs.SecureFS, filename string, body io.Reader, maxBytes int64) (path string, size int64, err error) {
	name := sanitize(filename)
	dest := filepath.Join(sfs.Root(), name)
	if exists, err := sfs.Exists(dest); err != nil {
		return "", 0, fmt.Errorf("media: probe destination: %w", err)
	} else if exists {
		ext := filepath.Ext(name)
		dest = filepath.Join(sfs.Root(),
			strings.TrimSuffix(name, ext)+"-"+uuid.NewString()[:8]+ext)
	}

	size, err = sfs.WriteFileFrom(dest, body, maxBytes)
	if err != nil {
		return "", 0, fmt.Errorf("media: write upload: %w", err)
	}
	return dest, size, nil
}

// sanitize strips path components and anything outside a conservative
// charset. The confined filesystem already rejects escaping paths; this
// keeps stored names portable and predictable for clients.
func sanitize(filename string) string {
	name := filepath.Base(filename)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" || out == "." || out == ".." {
		out = "upload-" + uuid.NewString()[:8]
	}
	return out
}
