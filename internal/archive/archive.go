package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/memorytap/internal/storage"
	"github.com/scrypster/memorytap/pkg/types"
)

// ExportResult summarizes an export.
type ExportResult struct {
	Dir     string        `json:"dir"`
	Written int           `json:"written"`
	Errors  []string      `json:"errors,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Export writes one note per memory below dir. Existing notes for the same
// memory are overwritten.
func Export(ctx context.Context, dir string, memories []*types.Memory) (*ExportResult, error) {
	start := time.Now()
	result := &ExportResult{Dir: dir}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}

	for _, m := range memories {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		data, err := RenderNote(m)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		path := filepath.Join(dir, NotePath(m))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", m.ID, err))
			continue
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", m.ID, err))
			continue
		}
		result.Written++
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// ImportResult summarizes an import.
type ImportResult struct {
	FilesFound      int           `json:"filesFound"`
	MemoriesCreated int           `json:"memoriesCreated"`
	FilesSkipped    int           `json:"filesSkipped"`
	FilesFailed     int           `json:"filesFailed"`
	Errors          []string      `json:"errors,omitempty"`
	Elapsed         time.Duration `json:"elapsed"`
}

// Importer reads notes into a store for one owner.
type Importer struct {
	store   storage.MemoryStore
	ownerID string
	now     func() time.Time
	logger  *slog.Logger
}

// NewImporter creates an importer that stores memories for ownerID.
func NewImporter(store storage.MemoryStore, ownerID string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, ownerID: ownerID, now: time.Now, logger: logger}
}

// Import walks dir and inserts every note. Notes whose ID is already
// stored are skipped, so importing the same export twice is harmless.
// Sessions already open see the new memories after a reload.
func (imp *Importer) Import(ctx context.Context, dir string) (*ImportResult, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot access directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", dir)
	}

	start := time.Now()
	files, err := collectMarkdownFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	result := &ImportResult{FilesFound: len(files)}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rel, _ := filepath.Rel(dir, path)

		data, err := os.ReadFile(path)
		if err != nil {
			result.FilesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: read error: %v", rel, err))
			continue
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			result.FilesSkipped++
			continue
		}

		m, err := ParseNote(data, rel)
		if err != nil {
			result.FilesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rel, err))
			continue
		}
		imp.complete(m, path, rel)

		_, err = imp.store.Insert(ctx, m)
		switch {
		case errors.Is(err, storage.ErrDuplicateID):
			result.FilesSkipped++
		case err != nil:
			imp.logger.Warn("import: failed to store note", "file", rel, "error", err)
			result.FilesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: store error: %v", rel, err))
		default:
			result.MemoriesCreated++
		}
	}

	result.Elapsed = time.Since(start)
	imp.logger.Info("import finished",
		"owner_id", imp.ownerID, "files", result.FilesFound,
		"created", result.MemoriesCreated, "skipped", result.FilesSkipped, "failed", result.FilesFailed)
	return result, nil
}

// complete fills what a foreign note may lack: owner, ID and capture time.
// A missing ID is derived from the owner and relative path, so re-importing
// the same folder finds the earlier copy.
func (imp *Importer) complete(m *types.Memory, path, rel string) {
	m.OwnerID = imp.ownerID
	if m.ID == "" {
		m.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("memorytap:"+imp.ownerID+":"+filepath.ToSlash(rel))).String()
	}
	if m.CreatedAt.IsZero() {
		if info, err := os.Stat(path); err == nil {
			m.CreatedAt = info.ModTime()
		} else {
			m.CreatedAt = imp.now()
		}
	}
}

// collectMarkdownFiles walks dir and returns all .md / .markdown files found.
// Hidden directories (e.g. .obsidian) are skipped.
func collectMarkdownFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext == ".md" || ext == ".markdown" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
