package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/scrypster/memorytap/internal/audio"
	"github.com/scrypster/memorytap/internal/storage"
	"github.com/scrypster/memorytap/pkg/types"
)

// Session bundles the cache, pipeline and router of one authenticated owner.
type Session struct {
	ownerID  string
	cache    *MemoryCache
	pipeline *IngestionPipeline
	router   *MutationRouter

	mu     sync.RWMutex
	closed bool
}

// OwnerID returns the session owner.
func (s *Session) OwnerID() string { return s.ownerID }

// Cache returns the session's memory cache.
func (s *Session) Cache() *MemoryCache { return s.cache }

// Pipeline returns the session's ingestion pipeline.
func (s *Session) Pipeline() *IngestionPipeline { return s.pipeline }

// Router returns the session's mutation router.
func (s *Session) Router() *MutationRouter { return s.router }

// Snapshot returns a copy of the owner's memories, newest first.
func (s *Session) Snapshot() ([]*types.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.cache.Snapshot(), nil
}

// Reload re-reads the owner's memories from the store.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.cache.Load(ctx, s.ownerID)
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close ends the session and clears its cache. Stored memories are kept.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cache.Clear()
}

// SessionDeps are the collaborators shared by every session.
type SessionDeps struct {
	Store     storage.MemoryStore
	Processor Processor

	// NewCapturer, when set, builds the recording device for a session.
	NewCapturer func(ownerID string) audio.Capturer

	// AudioSink, when set, stores recordings out of band before insert.
	AudioSink storage.AudioHydrator

	// Notifier receives every session's events. NewNotifier, when set, adds
	// a receiver scoped to one owner, such as that owner's open sockets.
	Notifier    Notifier
	NewNotifier func(ownerID string) Notifier

	Logger *slog.Logger
	Config Config
}

// SessionManager opens at most one session per owner and ends them when the
// owner signs out.
type SessionManager struct {
	deps SessionDeps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates a session manager.
func NewSessionManager(deps SessionDeps) (*SessionManager, error) {
	if deps.Store == nil || deps.Processor == nil {
		return nil, fmt.Errorf("store and processor are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &SessionManager{deps: deps, sessions: make(map[string]*Session)}, nil
}

// Open returns the owner's session, creating it and loading the cache from
// the store on first use.
func (m *SessionManager) Open(ctx context.Context, ownerID string) (*Session, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner ID is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[ownerID]; ok {
		return s, nil
	}

	cache := NewMemoryCache(m.deps.Store)
	if err := cache.Load(ctx, ownerID); err != nil {
		return nil, err
	}

	logger := m.deps.Logger.With("owner_id", ownerID)
	notifier := m.deps.Notifier
	if m.deps.NewNotifier != nil {
		notifier = MultiNotifier{notifier, m.deps.NewNotifier(ownerID)}
	}
	opts := []PipelineOption{
		WithNotifier(notifier),
		WithPipelineLogger(logger),
	}
	if m.deps.NewCapturer != nil {
		opts = append(opts, WithCapturer(m.deps.NewCapturer(ownerID)))
	}
	if m.deps.AudioSink != nil {
		opts = append(opts, WithAudioSink(m.deps.AudioSink))
	}

	pipeline, err := NewIngestionPipeline(ownerID, m.deps.Store, cache, m.deps.Processor, m.deps.Config, opts...)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ownerID:  ownerID,
		cache:    cache,
		pipeline: pipeline,
		router:   NewMutationRouter(m.deps.Store, cache, notifier, logger),
	}
	m.sessions[ownerID] = s
	logger.Info("session opened", "memories", cache.Len())
	return s, nil
}

// End closes the owner's session and clears its cache. It is a no-op when
// no session is open.
func (m *SessionManager) End(ownerID string) {
	m.mu.Lock()
	s, ok := m.sessions[ownerID]
	delete(m.sessions, ownerID)
	m.mu.Unlock()

	if ok {
		s.Close()
		m.deps.Logger.Info("session ended", "owner_id", ownerID)
	}
}

// CloseAll ends every open session.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
