// Package session keeps per-browser screen state in memory. Nothing here
// outlives the process.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/a3tai/taxdoc-client/internal/results"
	"github.com/a3tai/taxdoc-client/internal/upload"
)

// CookieName is the cookie carrying the session ID
const CookieName = "taxdoc_session"

// Session is the state of one browser: its upload screen and, after a
// successful submission, the mounted results screen
type Session struct {
	ID     string
	Upload *upload.View

	// cancel stops the background work bound to the session
	cancel      context.CancelFunc
	formsLoaded chan struct{}

	mu       sync.Mutex
	results  *results.View
	flash    string
	lastSeen time.Time
}

// Navigate mounts a results screen, tearing down the previous one
func (s *Session) Navigate(v *results.View) {
	s.mu.Lock()
	prev := s.results
	s.results = v
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// Results returns the mounted results screen, or nil
func (s *Session) Results() *results.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// CloseResults unmounts the results screen
func (s *Session) CloseResults() {
	s.Navigate(nil)
}

// FormsLoaded is closed once the form list fetch has settled
func (s *Session) FormsLoaded() <-chan struct{} {
	return s.formsLoaded
}

// release stops background work and unmounts the results screen
func (s *Session) release() {
	s.cancel()
	s.CloseResults()
}

// SetFlash records a one-shot user message
func (s *Session) SetFlash(msg string) {
	s.mu.Lock()
	s.flash = msg
	s.mu.Unlock()
}

// TakeFlash returns and clears the pending user message
func (s *Session) TakeFlash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.flash
	s.flash = ""
	return msg
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

// UploadFactory builds the upload screen for a new session
type UploadFactory func() *upload.View

// Store holds live sessions
type Store struct {
	newUpload UploadFactory
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger

	// ctx is the parent of every session context; Close cancels it
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates a store whose sessions expire after ttl of inactivity.
// A zero ttl keeps sessions until Close.
func NewStore(newUpload UploadFactory, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		newUpload: newUpload,
		ttl:       ttl,
		now:       time.Now,
		logger:    logger.With("component", "session"),
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
	}
}

// Get returns the session with id and marks it active
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	st.mu.Unlock()

	if ok {
		s.touch(st.now())
	}
	return s, ok
}

// Create starts a session. The upload screen's form list is fetched in
// the background; the screen renders without it until the fetch settles.
func (st *Store) Create() *Session {
	ctx, cancel := context.WithCancel(st.ctx)
	s := &Session{
		ID:          uuid.NewString(),
		Upload:      st.newUpload(),
		cancel:      cancel,
		formsLoaded: make(chan struct{}),
		lastSeen:    st.now(),
	}
	go func() {
		defer close(s.formsLoaded)
		s.Upload.LoadAvailableForms(ctx)
	}()

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()

	st.logger.Debug("session created", "session", s.ID)
	return s
}

// Len returns the number of live sessions
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep evicts idle sessions and tears down their results screens
func (st *Store) Sweep() int {
	if st.ttl <= 0 {
		return 0
	}
	now := st.now()

	var expired []*Session
	st.mu.Lock()
	for id, s := range st.sessions {
		if s.idleSince(now) > st.ttl {
			expired = append(expired, s)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	for _, s := range expired {
		s.release()
	}
	if len(expired) > 0 {
		st.logger.Info("expired idle sessions", "count", len(expired))
	}
	return len(expired)
}

// Run sweeps periodically until ctx is done
func (st *Store) Run(ctx context.Context, interval time.Duration) error {
	if st.ttl <= 0 || interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st.Sweep()
		}
	}
}

// Close tears down every session
func (st *Store) Close() {
	st.mu.Lock()
	all := st.sessions
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	st.cancel()
	for _, s := range all {
		s.release()
	}
}
