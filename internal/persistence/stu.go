// Package persistence implements the `.stu` project file format: JSON
// load/save with the load-time normalize-and-upgrade pipeline, plus a
// debounced writer for view-preference updates. Saves go through a temp
// file in the same directory and a rename, so a crashed write never
// leaves a torn document behind.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/thestuu/engine/internal/logging"
	"github.com/thestuu/engine/internal/project"
)

var logger = logging.ForService("persistence")

// LoadResult carries a parsed project plus any non-fatal normalization
// warnings (legacy-shape upgrades, clamped fields) so callers can surface
// them to a connecting client without failing the load.
type LoadResult struct {
	Project  *project.Project
	Warnings []string
}

// Load reads and parses a `.stu` file, applying the load-time pipeline in
// order: parse, upgrade legacy shapes, normalize (clamp), validate. A
// validation failure after normalization — an unknown pattern reference,
// for instance — is still surfaced to the caller, who decides whether it
// is fatal or whether to fall back to a default project.
func Load(path string) (*LoadResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persistence: read %s: %w", path, err)
	}

	p := &project.Project{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("persistence: parse %s: %w", path, err)
	}

	var warnings []string
	if err := p.UpgradeLegacyShapes(raw); err != nil {
		warnings = append(warnings, fmt.Sprintf("legacy shape upgrade: %v", err))
	}
	p.Normalize()
	p.RenumberTrackIDs()

	if errs := p.Validate(); len(errs) > 0 {
		for _, e := range errs {
			warnings = append(warnings, e.Error())
		}
		logger.Warn("loaded project failed validation after normalization",
			"path", path, "error_count", len(errs))
		return &LoadResult{Project: p, Warnings: warnings}, &ValidationFailure{Errors: errs}
	}

	return &LoadResult{Project: p, Warnings: warnings}, nil
}

// ValidationFailure wraps the validation errors surfaced by Load when a
// normalized project still fails Validate (e.g. an unresolved pattern
// reference), carrying the offending ids for clients to render.
type ValidationFailure struct {
	Errors []project.ValidationError
}

func (v *ValidationFailure) Error() string {
	if len(v.Errors) == 0 {
		return "project validation failed"
	}
	return fmt.Sprintf("project validation failed: %s (and %d more)", v.Errors[0].Error(), len(v.Errors)-1)
}

// Save writes a pretty-printed, normalized Project atomically: write to a
// temp file in the same directory, then rename over the target. The caller
// is expected to have already normalized/validated p.
func Save(path string, p *project.Project) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persistence: create dir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal project: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".stu-*.tmp")
	if err != nil {
		return fmt.Errorf("persistence: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persistence: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persistence: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("persistence: replace %s: %w", path, err)
	}

	logger.Debug("project saved", "path", path, "bytes", len(data))
	return nil
}

// Default constructs a brand-new default Project, the recovery target
// when an unreadable file collapses to "create default project".
func Default(name string, bpm int) *project.Project {
	return project.Default(name, bpm)
}
