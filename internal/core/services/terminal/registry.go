// Package terminal tracks interactive shell sessions into containers and
// bridges them to client channels.
package terminal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
	"github.com/melih/lighthouse-console/internal/telemetry"
)

// Config bounds the session table. Zero values fall back to a 30 minute idle
// timeout and a 30 second command timeout.
type Config struct {
	IdleTimeout    time.Duration
	MaxSessions    int
	CommandTimeout time.Duration
}

type session struct {
	domain.TerminalSession
	channel ports.TerminalChannel
	link    *Link
}

// Registry owns every terminal session. Records are only reachable through
// its methods.
type Registry struct {
	bridge  *Bridge
	cfg     Config
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu       sync.Mutex
	sessions map[string]*session
}

var _ ports.SessionManager = (*Registry)(nil)

type Option func(*Registry)

func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

func NewRegistry(bridge *Bridge, cfg Config, logger *zap.Logger, metrics *telemetry.Metrics, opts ...Option) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	r := &Registry{
		bridge:   bridge,
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		logger:   logger.Named("terminal"),
		metrics:  metrics,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateSession registers a session for containerID without spawning
// anything. Idle sessions are reaped first.
func (r *Registry) CreateSession(containerID, userID string) (string, error) {
	r.Reap()

	r.mu.Lock()
	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return "", fmt.Errorf("%w (%d)", domain.ErrSessionLimit, r.cfg.MaxSessions)
	}
	id := uuid.NewString()
	for r.sessions[id] != nil {
		id = uuid.NewString()
	}
	now := r.clock.Now()
	r.sessions[id] = &session{TerminalSession: domain.TerminalSession{
		ID:           id,
		ContainerID:  containerID,
		UserID:       userID,
		State:        domain.SessionCreated,
		CreatedAt:    now,
		LastActivity: now,
	}}
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.ActiveSessions.Set(float64(count))
	r.logger.Info("terminal session created",
		zap.String("session_id", id),
		zap.String("container_id", containerID),
		zap.String("user_id", userID))
	return id, nil
}

// Attach binds ch to the session and spawns its shell. If the spawn fails
// the client gets one error frame, ch is closed and the session is dropped.
func (r *Registry) Attach(ctx context.Context, sessionID string, ch ports.TerminalChannel) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if s.State != domain.SessionCreated {
		state := s.State
		r.mu.Unlock()
		return fmt.Errorf("session %s is %s: %w", sessionID, state, domain.ErrInvalidState)
	}
	s.State = domain.SessionAttaching
	s.channel = ch
	containerID := s.ContainerID
	r.mu.Unlock()

	link, err := r.bridge.Attach(ctx, containerID, ch, func() { r.ended(sessionID) })
	if err != nil {
		r.logger.Warn("failed to spawn terminal",
			zap.String("session_id", sessionID),
			zap.String("container_id", containerID),
			zap.Error(err))
		_ = ch.SendFrame(domain.ErrorFrame(fmt.Sprintf("failed to start terminal: %v", err)))
		_ = ch.Close()
		r.drop(sessionID, s)
		return err
	}

	r.mu.Lock()
	current := r.sessions[sessionID]
	if current == s {
		s.link = link
		s.State = domain.SessionAttached
		s.LastActivity = r.clock.Now()
	}
	r.mu.Unlock()

	if current != s {
		// closed while the shell was starting
		link.Close()
		return nil
	}
	r.logger.Info("terminal session attached",
		zap.String("session_id", sessionID),
		zap.String("container_id", containerID))
	return nil
}

// Open creates a session and attaches ch to it in one step.
func (r *Registry) Open(ctx context.Context, containerID, userID string, ch ports.TerminalChannel) (string, error) {
	id, err := r.CreateSession(containerID, userID)
	if err != nil {
		return "", err
	}
	if err := r.Attach(ctx, id, ch); err != nil {
		return "", err
	}
	return id, nil
}

// attached returns the live link of a session and marks it active.
func (r *Registry) attached(sessionID string) (*Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if s.State != domain.SessionAttached || s.link == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotConnected)
	}
	s.LastActivity = r.clock.Now()
	return s.link, nil
}

// Send writes data to the session's stdin, waiting at most the command
// timeout.
func (r *Registry) Send(ctx context.Context, sessionID string, data []byte) error {
	link, err := r.attached(sessionID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeout)
	defer cancel()
	if err := link.Write(ctx, data); err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}
	return nil
}

// Resize changes the pty size of a live session. Both dimensions must be
// positive.
func (r *Registry) Resize(ctx context.Context, sessionID string, cols, rows uint) error {
	if cols == 0 || rows == 0 {
		return fmt.Errorf("invalid terminal size %dx%d: %w", cols, rows, domain.ErrInvalidAction)
	}
	link, err := r.attached(sessionID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeout)
	defer cancel()
	return link.Resize(ctx, cols, rows)
}

// Close ends the session. Closing an unknown or already closed session is
// not an error.
func (r *Registry) Close(sessionID string) error {
	r.closeIf(sessionID, nil)
	return nil
}

// closeIf removes the session when cond holds and tears down its process and
// channel outside the lock.
func (r *Registry) closeIf(sessionID string, cond func(*session) bool) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok || (cond != nil && !cond(s)) {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, sessionID)
	s.State = domain.SessionClosed
	link, ch := s.link, s.channel
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.ActiveSessions.Set(float64(count))
	switch {
	case link != nil:
		link.Close()
	case ch != nil:
		_ = ch.Close()
	}
	r.logger.Info("terminal session closed", zap.String("session_id", sessionID))
	return true
}

// ended drops the record after the bridge has torn the session down.
func (r *Registry) ended(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
		s.State = domain.SessionClosed
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		r.metrics.ActiveSessions.Set(float64(count))
		r.logger.Info("terminal session ended", zap.String("session_id", sessionID))
	}
}

func (r *Registry) drop(sessionID string, s *session) {
	r.mu.Lock()
	if r.sessions[sessionID] == s {
		delete(r.sessions, sessionID)
		s.State = domain.SessionClosed
	}
	count := len(r.sessions)
	r.mu.Unlock()
	r.metrics.ActiveSessions.Set(float64(count))
}

// Reap closes every session idle for longer than the idle timeout and
// returns their ids.
func (r *Registry) Reap() []string {
	now := r.clock.Now()
	idle := func(s *session) bool {
		return now.Sub(s.LastActivity) > r.cfg.IdleTimeout
	}

	r.mu.Lock()
	var candidates []string
	for id, s := range r.sessions {
		if idle(s) {
			candidates = append(candidates, id)
		}
	}
	r.mu.Unlock()

	var reaped []string
	for _, id := range candidates {
		if r.closeIf(id, idle) {
			reaped = append(reaped, id)
			r.metrics.SessionsReaped.Inc()
		}
	}
	if len(reaped) > 0 {
		r.logger.Info("reaped idle terminal sessions", zap.Strings("session_ids", reaped))
	}
	return reaped
}

// Run reaps idle sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Reap()
		}
	}
}

// CloseAll ends every session, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.closeIf(id, nil)
	}
}

// Get returns a copy of the session record.
func (r *Registry) Get(sessionID string) (domain.TerminalSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.TerminalSession{}, false
	}
	return s.TerminalSession, true
}

// List returns every session, oldest first.
func (r *Registry) List() []domain.TerminalSession {
	r.mu.Lock()
	out := make([]domain.TerminalSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.TerminalSession)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of open sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
