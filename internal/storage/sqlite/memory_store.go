// Package sqlite provides the local SQLite implementation of storage.MemoryStore.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/scrypster/memorytap/internal/storage"
	"github.com/scrypster/memorytap/pkg/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryStore implements storage.MemoryStore using SQLite.
//
// Recordings attached to an inserted memory (Memory.Audio) are kept inline as
// base64 text. On read the store turns that payload back into a playable
// reference through its AudioHydrator, or into a data: URI when none is set.
type MemoryStore struct {
	db       *sql.DB
	hydrator storage.AudioHydrator
	logger   *slog.Logger
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithAudioHydrator sets the hydrator used to re-materialize inline audio.
func WithAudioHydrator(h storage.AudioHydrator) Option {
	return func(s *MemoryStore) { s.hydrator = h }
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *MemoryStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewMemoryStore opens a SQLite database, configures WAL mode and applies the
// embedded migrations.
func NewMemoryStore(dsn string, opts ...Option) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storage.Unavailable("sqlite: open database", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load, and keeps
	// ":memory:" databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, storage.Unavailable("sqlite: enable WAL mode", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, storage.Unavailable("sqlite: set busy timeout", err)
	}

	mgr, err := storage.NewMigrationManager(db, migrationsFS, "migrations", storage.PlaceholderQuestion)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	if _, err := mgr.Up(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	s := &MemoryStore{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

const selectColumns = `
	id, owner_id, title, summary, content, category,
	audio_ref, audio_blob, audio_type,
	is_favorite, is_completed, created_at,
	duration_sec, reminder_time`

// ListAll returns all memories owned by ownerID.
func (s *MemoryStore) ListAll(ctx context.Context, ownerID string) ([]*types.Memory, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM memories WHERE owner_id = ? ORDER BY created_at DESC", ownerID)
	if err != nil {
		return nil, storage.Unavailable("sqlite: list memories", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*types.Memory
	for rows.Next() {
		m, err := s.scanMemory(rows)
		if err != nil {
			return nil, storage.Unavailable("sqlite: scan memory", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("sqlite: iterate memories", err)
	}

	return memories, nil
}

// Get retrieves a memory by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM memories WHERE id = ?", id)
	m, err := s.scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Unavailable("sqlite: get memory", err)
	}
	return m, nil
}

// Insert persists a new memory.
func (s *MemoryStore) Insert(ctx context.Context, memory *types.Memory) (*types.Memory, error) {
	if err := storage.ValidateNew(memory); err != nil {
		return nil, err
	}

	var audioBlob, audioType sql.NullString
	if memory.Audio != nil && len(memory.Audio.Data) > 0 {
		audioBlob = sql.NullString{String: base64.StdEncoding.EncodeToString(memory.Audio.Data), Valid: true}
		audioType = nullableString(memory.Audio.ContentType)
	}

	var duration sql.NullFloat64
	if memory.DurationSec > 0 {
		duration = sql.NullFloat64{Float64: memory.DurationSec, Valid: true}
	}

	var reminder sql.NullTime
	if memory.ReminderTime != nil {
		reminder = sql.NullTime{Time: memory.ReminderTime.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, owner_id, title, summary, content, category,
			audio_ref, audio_blob, audio_type,
			is_favorite, is_completed, created_at,
			duration_sec, reminder_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		memory.ID, memory.OwnerID, memory.Title, memory.Summary, memory.Content, string(memory.Category),
		nullableString(memory.AudioRef), audioBlob, audioType,
		memory.IsFavorite, memory.IsCompleted, memory.CreatedAt.UTC(),
		duration, reminder,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return nil, fmt.Errorf("sqlite: insert %s: %w", memory.ID, storage.ErrDuplicateID)
		}
		return nil, storage.Unavailable("sqlite: insert memory", err)
	}

	stored := memory.Clone()
	if stored.AudioRef == "" && audioBlob.Valid {
		stored.AudioRef = s.hydrate(stored.ID, memory.Audio.Data, audioType.String)
	}
	return stored, nil
}

// ApplyPatch merges a partial update into the stored record.
func (s *MemoryStore) ApplyPatch(ctx context.Context, id string, patch types.Patch) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	var (
		sets []string
		args []interface{}
	)
	if patch.IsFavorite != nil {
		sets = append(sets, "is_favorite = ?")
		args = append(args, *patch.IsFavorite)
	}
	if patch.IsCompleted != nil {
		sets = append(sets, "is_completed = ?")
		args = append(args, *patch.IsCompleted)
	}

	if len(sets) == 0 {
		// Nothing to write, but the contract still reports missing records.
		_, err := s.Get(ctx, id)
		return err
	}

	args = append(args, id)
	result, err := s.db.ExecContext(ctx,
		"UPDATE memories SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return storage.Unavailable("sqlite: patch memory", err)
	}

	return checkAffected(result)
}

// Remove hard-deletes a memory.
func (s *MemoryStore) Remove(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return storage.Unavailable("sqlite: remove memory", err)
	}

	return checkAffected(result)
}

// Close releases the database handle.
func (s *MemoryStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *MemoryStore) scanMemory(row rowScanner) (*types.Memory, error) {
	var (
		m                             types.Memory
		category                      string
		audioRef, audioBlob, audioTyp sql.NullString
		duration                      sql.NullFloat64
		reminder                      sql.NullTime
	)

	err := row.Scan(
		&m.ID, &m.OwnerID, &m.Title, &m.Summary, &m.Content, &category,
		&audioRef, &audioBlob, &audioTyp,
		&m.IsFavorite, &m.IsCompleted, &m.CreatedAt,
		&duration, &reminder,
	)
	if err != nil {
		return nil, err
	}

	m.Category = types.Category(category)
	if duration.Valid {
		m.DurationSec = duration.Float64
	}
	if reminder.Valid {
		t := reminder.Time
		m.ReminderTime = &t
	}

	switch {
	case audioRef.Valid && audioRef.String != "":
		m.AudioRef = audioRef.String
	case audioBlob.Valid && audioBlob.String != "":
		data, err := base64.StdEncoding.DecodeString(audioBlob.String)
		if err != nil {
			// A corrupt payload only costs playback; the record itself is intact.
			s.logger.Warn("sqlite: failed to decode inline audio", "memory_id", m.ID, "error", err)
			break
		}
		m.AudioRef = s.hydrate(m.ID, data, audioTyp.String)
	}

	return &m, nil
}

// hydrate converts inline audio into a playable reference. Failures are logged
// and yield an empty reference.
func (s *MemoryStore) hydrate(id string, data []byte, contentType string) string {
	if contentType == "" {
		contentType = "audio/webm"
	}
	if s.hydrator == nil {
		return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
	}
	ref, err := s.hydrator.Hydrate(data, contentType)
	if err != nil {
		s.logger.Warn("sqlite: failed to hydrate audio", "memory_id", id, "error", err)
		return ""
	}
	return ref
}

func checkAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storage.Unavailable("sqlite: check rows affected", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion.
var _ storage.MemoryStore = (*MemoryStore)(nil)
