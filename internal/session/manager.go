package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/capture"
)

// Manager tracks the sessions owned by one process
type Manager struct {
	sessions map[string]*Controller
	mu       sync.RWMutex
	logger   *slog.Logger
	opts     []Option
}

// NewManager creates an empty registry. opts are applied to every session it creates.
func NewManager(logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Controller),
		logger:   logger,
		opts:     opts,
	}
}

// Create builds a session and registers it
func (m *Manager) Create(cfg Config, src capture.SampleSource, tr Transport, opts ...Option) (*Controller, error) {
	all := make([]Option, 0, len(m.opts)+len(opts)+1)
	all = append(all, WithLogger(m.logger))
	all = append(all, m.opts...)
	all = append(all, opts...)

	c, err := NewController(cfg, src, tr, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.mu.Lock()
	m.sessions[c.ID()] = c
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("Created session",
		slog.String("session_id", c.ID()),
		slog.Int("active_sessions", count),
	)
	return c, nil
}

// Get retrieves a session by ID
func (m *Manager) Get(id string) (*Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.sessions[id]
	return c, ok
}

// List returns a snapshot of every session, oldest first
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		sessions = append(sessions, c)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, c := range sessions {
		infos = append(infos, c.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Count returns the number of registered sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Remove unregisters a session and closes it, flushing any capture in progress
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	c, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	if err := c.Close(); err != nil {
		m.logger.Warn("Error closing session",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	}

	stats := c.GetStats()
	m.logger.Info("Session removed",
		slog.String("session_id", id),
		slog.Uint64("frames_sent", stats.FramesSent),
		slog.Uint64("transcripts_received", stats.TranscriptsReceived),
	)
	return true
}

// StopAll flushes and closes every session and empties the registry
func (m *Manager) StopAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()

	m.logger.Info("Stopping all sessions", slog.Int("count", len(sessions)))

	var errs []error
	for id, c := range sessions {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
