package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/scrypster/memorytap/internal/audio"
	"github.com/scrypster/memorytap/internal/backup"
	"github.com/scrypster/memorytap/internal/config"
	"github.com/scrypster/memorytap/internal/engine"
	"github.com/scrypster/memorytap/internal/identity"
	"github.com/scrypster/memorytap/internal/insight"
	"github.com/scrypster/memorytap/internal/llm"
	"github.com/scrypster/memorytap/internal/logging"
	"github.com/scrypster/memorytap/internal/storage"
	"github.com/scrypster/memorytap/internal/storage/postgres"
	"github.com/scrypster/memorytap/internal/storage/sqlite"
)

// app holds everything a command needs once configuration is loaded.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.MemoryStore
	vault    *audio.Vault
	sessions *engine.SessionManager
	insight  *insight.Service

	closers []io.Closer
}

// appOptions adjust how the app is assembled for a particular command.
type appOptions struct {
	// audioURL is used as the vault's public URL for SQLite when the config
	// has none, so the HTTP server can hand out playable references.
	audioURL string

	newCapturer func(ownerID string) audio.Capturer
	newNotifier func(ownerID string) engine.Notifier
}

// loadConfig reads configuration and builds the logger.
func (o *rootOptions) loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfigFile(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Log.Level
	if o.verbose {
		level = "debug"
	}
	logger, err := logging.New(o.logOutput(), level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func (o *rootOptions) logOutput() io.Writer {
	if o.logWriter != nil {
		return o.logWriter
	}
	return os.Stderr
}

// openApp loads configuration and builds the app.
func (o *rootOptions) openApp(opts appOptions) (*app, error) {
	cfg, logger, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return buildApp(cfg, logger, opts)
}

// buildApp wires the store, model clients, insight service and session
// manager.
func buildApp(cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.openStore(opts); err != nil {
		return nil, err
	}

	transcriber, err := llm.NewTranscriber(cfg.TranscriptionProviderConfig())
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("transcriber: %w", err)
	}
	generator, err := llm.NewTextGenerator(cfg.TextProvider())
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("text generator: %w", err)
	}
	insightGen, err := llm.NewTextGenerator(cfg.InsightProvider())
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("insight generator: %w", err)
	}

	deps := engine.SessionDeps{
		Store:       a.store,
		Processor:   llm.NewAudioProcessor(transcriber, generator, logger),
		NewCapturer: opts.newCapturer,
		Notifier:    engine.LogNotifier{Logger: logger},
		NewNotifier: opts.newNotifier,
		Logger:      logger,
		Config: engine.Config{
			MinAudioBytes: cfg.Ingestion.MinAudioBytes,
		},
	}
	if cfg.Storage.Engine == config.EnginePostgres {
		deps.AudioSink = a.vault
	}

	a.sessions, err = engine.NewSessionManager(deps)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.insight = insight.NewService(insightGen, insight.Config{
		CacheSize: cfg.Insight.CacheSize,
		CacheTTL:  cfg.Insight.CacheTTL,
	}, logger)
	return a, nil
}

func (a *app) openStore(opts appOptions) error {
	st := a.cfg.Storage

	switch st.Engine {
	case config.EnginePostgres:
		vault, err := audio.NewVault(st.AudioDir, st.AudioPublicURL)
		if err != nil {
			return err
		}
		store, err := postgres.NewMemoryStore(st.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		a.vault, a.store = vault, store
		a.closers = append(a.closers, store)

	default:
		if err := os.MkdirAll(st.DataPath, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		publicURL := st.AudioPublicURL
		if publicURL == "" {
			publicURL = opts.audioURL
		}
		vault, err := audio.NewVault(st.AudioDir, publicURL)
		if err != nil {
			return err
		}
		store, err := sqlite.NewMemoryStore(st.SQLitePath(),
			sqlite.WithAudioHydrator(vault),
			sqlite.WithLogger(a.logger))
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		a.vault, a.store = vault, store
		a.closers = append(a.closers, store)
	}

	a.logger.Debug("store opened", "engine", st.Engine)
	return nil
}

func newBackupService(cfg *config.Config, logger *slog.Logger) (*backup.Service, error) {
	b := cfg.Backup
	return backup.NewService(backup.Config{
		DBPath:   cfg.Storage.SQLitePath(),
		Dir:      b.Dir,
		Interval: b.Interval,
		Verify:   b.Verify,
		Retention: backup.RetentionPolicy{
			Hourly:  b.RetentionHourly,
			Daily:   b.RetentionDaily,
			Weekly:  b.RetentionWeekly,
			Monthly: b.RetentionMonthly,
		},
	}, logger)
}

// newIdentity builds the provider selected by the security mode.
func newIdentity(cfg *config.Config) (identity.Provider, error) {
	sec := cfg.Security
	switch sec.Mode {
	case config.SecurityJWT:
		p, err := identity.NewJWTProvider(sec.JWTSecret, sec.JWTIssuer)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return identity.StaticProvider{OwnerID: sec.OwnerID, Token: sec.APIToken}, nil
	}
}

// Close ends all sessions and closes the store.
func (a *app) Close() error {
	if a.sessions != nil {
		a.sessions.CloseAll()
	}
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
