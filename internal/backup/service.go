package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrRunning is returned by Restore while the scheduler is active.
var ErrRunning = errors.New("backup scheduler is running")

// Service takes scheduled and on-demand snapshots.
type Service struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	running    bool
	lastBackup time.Time
	nextBackup time.Time
}

// NewService validates cfg, fills in defaults and creates the backup
// directory.
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Retention == (RetentionPolicy{}) {
		cfg.Retention = DefaultRetention()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	return &Service{cfg: cfg, logger: logger.With("component", "backup"), now: time.Now}, nil
}

// Run snapshots every interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	s.running = true
	s.nextBackup = s.now().Add(s.cfg.Interval)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("backup scheduler started", "interval", s.cfg.Interval, "dir", s.cfg.Dir)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := s.BackupNow(ctx); err != nil {
				s.logger.Error("scheduled backup failed", "error", err)
			}
			s.mu.Lock()
			s.nextBackup = s.now().Add(s.cfg.Interval)
			s.mu.Unlock()
		}
	}
}

// BackupNow writes a snapshot, verifies it when configured and prunes old
// snapshots. A failed prune is logged, not returned.
func (s *Service) BackupNow(ctx context.Context) (*Result, error) {
	start := s.now()

	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	path := filepath.Join(s.cfg.Dir, filePrefix+start.UTC().Format("20060102-150405.000000")+fileSuffix)
	if err := snapshotSQLite(ctx, s.cfg.DBPath, path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	result := &Result{Path: path, Size: info.Size()}

	if s.cfg.Verify {
		if err := verifySnapshot(ctx, path); err != nil {
			_ = os.Remove(path)
			return nil, fmt.Errorf("snapshot verification failed: %w", err)
		}
		result.Verified = true
	}
	result.Duration = s.now().Sub(start)

	s.mu.Lock()
	s.lastBackup = s.now()
	s.mu.Unlock()

	removed, err := prune(s.cfg.Dir, s.cfg.Retention, s.now())
	if err != nil {
		s.logger.Warn("retention failed", "error", err)
	}

	s.logger.Info("backup completed",
		"path", result.Path, "size", result.Size, "verified", result.Verified, "pruned", removed)
	return result, nil
}

// List returns the stored snapshots, newest first.
func (s *Service) List() ([]Info, error) {
	return listSnapshots(s.cfg.Dir)
}

// Restore replaces the database with snapshotPath. The store must be closed
// and the scheduler stopped. The current database is kept aside and put
// back if the restore fails.
func (s *Service) Restore(ctx context.Context, snapshotPath string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return ErrRunning
	}

	if _, err := os.Stat(snapshotPath); err != nil {
		return fmt.Errorf("backup not found: %w", err)
	}

	aside := s.cfg.DBPath + ".pre-restore"
	if _, err := os.Stat(s.cfg.DBPath); err == nil {
		if err := snapshotSQLite(ctx, s.cfg.DBPath, aside); err != nil {
			return fmt.Errorf("save current database: %w", err)
		}
		defer func() { _ = os.Remove(aside) }()
	}

	if err := restoreSnapshot(ctx, snapshotPath, s.cfg.DBPath); err != nil {
		if _, statErr := os.Stat(aside); statErr == nil {
			if rbErr := restoreSnapshot(ctx, aside, s.cfg.DBPath); rbErr != nil {
				return fmt.Errorf("restore failed and rollback failed: %v (restore error: %w)", rbErr, err)
			}
			return fmt.Errorf("restore failed, rolled back: %w", err)
		}
		return err
	}

	s.logger.Info("database restored", "from", snapshotPath)
	return nil
}

// Health reports whether scheduled backups are on time.
func (s *Service) Health() (*Status, error) {
	s.mu.Lock()
	last, next := s.lastBackup, s.nextBackup
	s.mu.Unlock()

	snapshots, err := s.List()
	if err != nil {
		return nil, err
	}

	status := &Status{
		Status:        "healthy",
		LastBackup:    last,
		NextBackup:    next,
		TotalBackups:  len(snapshots),
		Dir:           s.cfg.Dir,
		DiskSpaceUsed: diskUsage(snapshots),
	}

	now := s.now()
	switch {
	case last.IsZero():
		status.Message = "no backups yet"
	case now.Sub(last) > 2*s.cfg.Interval:
		status.Status = "warning"
		status.Message = fmt.Sprintf("backup overdue by %v", (now.Sub(last) - s.cfg.Interval).Round(time.Minute))
	default:
		status.Message = fmt.Sprintf("last backup %v ago", now.Sub(last).Round(time.Minute))
	}
	return status, nil
}
