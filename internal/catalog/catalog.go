// Package catalog maintains a SQLite index of the user's `.stu` projects:
// path, title, bpm, track count, timestamps. Pure convenience metadata for
// the project-chooser surface — the `.stu` documents stay authoritative
// and the index is rebuildable by rescanning the projects directory.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/thestuu/engine/internal/logging"
	"github.com/thestuu/engine/internal/persistence"
	"github.com/thestuu/engine/internal/project"
)

// Entry is one indexed project file.
type Entry struct {
	ID           uint      `gorm:"primaryKey"`
	Path         string    `gorm:"uniqueIndex;not null"`
	Title        string    `gorm:"index"`
	BPM          int
	TrackCount   int
	LastOpened   time.Time
	LastModified time.Time `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store wraps the catalog database.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open creates or migrates the catalog at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("catalog: create dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", dbPath, err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("catalog: migrate: %w", err)
	}
	return &Store{db: db, logger: logging.ForService("catalog")}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordSave upserts the entry for a just-saved project. Satisfies the
// session orchestrator's Catalog interface; failures are logged, never
// surfaced — the save itself already succeeded.
func (s *Store) RecordSave(path string, p *project.Project) {
	entry := Entry{
		Path:         path,
		Title:        p.Title,
		BPM:          p.BPM,
		TrackCount:   len(p.Playlist),
		LastModified: time.Now(),
	}
	err := s.db.Where(Entry{Path: path}).
		Assign(map[string]any{
			"title":         entry.Title,
			"bpm":           entry.BPM,
			"track_count":   entry.TrackCount,
			"last_modified": entry.LastModified,
		}).
		FirstOrCreate(&Entry{}).Error
	if err != nil {
		s.logger.Warn("catalog upsert failed", "path", path, "error", err)
	}
}

// MarkOpened stamps last_opened for a project the engine just loaded.
func (s *Store) MarkOpened(path string) {
	err := s.db.Model(&Entry{}).Where("path = ?", path).
		Update("last_opened", time.Now()).Error
	if err != nil {
		s.logger.Warn("catalog open stamp failed", "path", path, "error", err)
	}
}

// Recent lists entries by last modification, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	var entries []Entry
	err := s.db.Order("last_modified DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// Rescan walks the projects directory and refreshes every entry, pruning
// entries whose files are gone. Runs at startup; the catalog is always
// rebuildable from disk.
func (s *Store) Rescan(projectsDir string) error {
	seen := make(map[string]bool)
	err := filepath.WalkDir(projectsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".stu") {
			return nil //nolint:nilerr // unreadable entries are skipped, not fatal
		}
		seen[path] = true
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}

		result, loadErr := persistence.Load(path)
		if result == nil || result.Project == nil {
			if loadErr != nil {
				s.logger.Warn("unparseable project skipped during rescan",
					"path", path, "error", loadErr)
			}
			return nil
		}
		p := result.Project
		s.db.Where(Entry{Path: path}).
			Assign(map[string]any{
				"title":         p.Title,
				"bpm":           p.BPM,
				"track_count":   len(p.Playlist),
				"last_modified": info.ModTime(),
			}).
			FirstOrCreate(&Entry{})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("catalog: rescan: %w", err)
	}

	var stale []Entry
	s.db.Find(&stale)
	for i := range stale {
		if !seen[stale[i].Path] {
			s.db.Delete(&stale[i])
		}
	}
	return nil
}
