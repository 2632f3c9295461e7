// Package sessions keeps one registration controller per open form.
package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/thiran-symposium/gateway-api/internal/logging"
	"github.com/thiran-symposium/gateway-api/internal/registration"
)

var ErrNotFound = errors.New("registration session not found")

// Session is a single form instance.
type Session struct {
	ID         uuid.UUID
	Controller *registration.Controller

	mu       sync.Mutex
	lastSeen time.Time
	last     *registration.Notification
}

// LastNotification returns the most recent toast, if any.
func (s *Session) LastNotification() *registration.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	n := *s.last
	return &n
}

func (s *Session) notify(n registration.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &n
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
	ResetDelay    time.Duration
}

// Manager owns the sessions and evicts the ones left idle for longer than TTL.
type Manager struct {
	backend  registration.Backend
	cfg      Config
	clock    clockwork.Clock
	logger   logrus.FieldLogger
	observer registration.PhaseObserver
	onCount  func(int)

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

type Option func(*Manager)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithObserver is handed to every controller the manager creates.
func WithObserver(observer registration.PhaseObserver) Option {
	return func(m *Manager) { m.observer = observer }
}

// WithCountHook is called with the session count after every change.
func WithCountHook(hook func(int)) Option {
	return func(m *Manager) { m.onCount = hook }
}

func NewManager(backend registration.Backend, cfg Config, logger logrus.FieldLogger, opts ...Option) *Manager {
	m := &Manager{
		backend:  backend,
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
		sessions: make(map[uuid.UUID]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.ResetDelay <= 0 {
		m.cfg.ResetDelay = registration.DefaultResetDelay
	}
	return m
}

// Create starts a new empty form.
func (m *Manager) Create() *Session {
	s := &Session{ID: uuid.New(), lastSeen: m.clock.Now()}

	opts := []registration.Option{
		registration.WithClock(m.clock),
		registration.WithResetDelay(m.cfg.ResetDelay),
		registration.WithLogger(logging.WithSession(m.logger, s.ID.String())),
	}
	if m.observer != nil {
		opts = append(opts, registration.WithObserver(m.observer))
	}
	s.Controller = registration.NewController(m.backend, registration.NotifierFunc(s.notify), opts...)

	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.countChanged(n)
	return s
}

// Get returns the session and marks it as active.
func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	// Touched under the manager lock so a concurrent Sweep sees it
	s.touch(m.clock.Now())
	return s, nil
}

func (m *Manager) Delete(id uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.Controller.Close()
	m.countChanged(n)
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Run evicts idle sessions every SweepInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.SweepInterval <= 0 || m.cfg.TTL <= 0 {
		<-ctx.Done()
		return
	}

	ticker := m.clock.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := m.Sweep(); n > 0 {
				m.logger.WithField("evicted", n).Debug("Evicted idle registration sessions")
			}
		}
	}
}

// Sweep removes sessions idle for longer than TTL. Sessions with a submission
// in flight are kept.
func (m *Manager) Sweep() int {
	cutoff := m.clock.Now().Add(-m.cfg.TTL)

	m.mu.Lock()
	var evicted []*Session
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) && !s.Controller.Busy() {
			evicted = append(evicted, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range evicted {
		s.Controller.Close()
	}
	if len(evicted) > 0 {
		m.countChanged(n)
	}
	return len(evicted)
}

// Close drops every session and cancels their pending resets.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Controller.Close()
	}
	m.countChanged(0)
}

func (m *Manager) countChanged(n int) {
	if m.onCount != nil {
		m.onCount(n)
	}
}
