package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	api_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/api"
	interfaces "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Repository/Interfaces"
)

// EventKind identifies a session transition
type EventKind int

const (
	EventLogin EventKind = iota + 1
	EventLogout
)

func (k EventKind) String() string {
	switch k {
	case EventLogin:
		return "login"
	case EventLogout:
		return "logout"
	}
	return "unknown"
}

// Event is delivered to subscribers after the state change has been applied
type Event struct {
	Kind    EventKind
	Session api_models.Session // empty for EventLogout
}

// Store holds the current session. It is the only writer of session state.
type Store struct {
	repo interfaces.SessionRepository
	log  *logger.Logger
	now  func() time.Time

	// writeMu serializes Login and Logout so the persisted copy always
	// matches the last in-memory change
	writeMu sync.Mutex
	mu      sync.RWMutex
	current *api_models.Session

	subsMu sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the clock used for token expiry checks
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store and restores any persisted session. A persisted
// session whose token has expired is discarded and cleared from the repository.
func NewStore(repo interfaces.SessionRepository, log *logger.Logger, opts ...Option) *Store {
	s := &Store{
		repo: repo,
		log:  log.WithComponent("session"),
		now:  time.Now,
		subs: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.restore()
	return s
}

func (s *Store) restore() {
	persisted, err := s.repo.Load()
	if err != nil {
		s.log.WithError(err).Warn("could not restore session, starting logged out")
		return
	}
	if persisted == nil {
		return
	}
	if Expired(persisted.Token, s.now()) {
		s.log.WithField("user_id", persisted.User.ID).Info("persisted session token expired, discarding")
		if err := s.repo.Clear(); err != nil {
			s.log.WithError(err).Warn("failed to clear expired session")
		}
		return
	}

	s.mu.Lock()
	s.current = persisted
	s.mu.Unlock()
	s.log.WithField("user_id", persisted.User.ID).Info("session restored")
}

// Login stores token and user together, persists them and notifies subscribers.
// The in-memory session is set even when persisting fails; the error is returned.
func (s *Store) Login(token string, user api_models.User) error {
	if token == "" {
		return errors.New("session token is empty")
	}
	sess := api_models.Session{Token: token, User: user}

	s.writeMu.Lock()
	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()

	var persistErr error
	if err := s.repo.Save(sess); err != nil {
		s.log.WithError(err).Warn("failed to persist session")
		persistErr = fmt.Errorf("persist session: %w", err)
	}
	s.writeMu.Unlock()

	s.notify(Event{Kind: EventLogin, Session: sess})
	return persistErr
}

// Logout clears the session and its persisted copy. Subscribers are only
// notified if a session was present.
func (s *Store) Logout() error {
	s.writeMu.Lock()
	s.mu.Lock()
	had := s.current != nil
	s.current = nil
	s.mu.Unlock()

	var clearErr error
	if err := s.repo.Clear(); err != nil {
		s.log.WithError(err).Warn("failed to clear persisted session")
		clearErr = fmt.Errorf("clear session: %w", err)
	}
	s.writeMu.Unlock()

	if had {
		s.notify(Event{Kind: EventLogout})
	}
	return clearErr
}

// Current returns a copy of the session, if any
func (s *Store) Current() (api_models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return api_models.Session{}, false
	}
	return *s.current, true
}

// Token returns the bearer token, or "" when logged out
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.Token
}

// Subscribe registers fn for session events. Callbacks run synchronously on the
// goroutine that changed the session and must not call Subscribe or cancel.
func (s *Store) Subscribe(fn func(Event)) (cancel func()) {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Store) notify(ev Event) {
	s.subsMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
