package apiclient

import (
	"log/slog"
	"sync"
)

// LogSession is the Session used by the CLI. It remembers the logical
// location of the running command and logs the login URL on logout.
type LogSession struct {
	mu       sync.Mutex
	path     string
	loggedIn bool
	lastURL  string
	logger   *slog.Logger
}

// NewLogSession creates a logged-in session at "/"
func NewLogSession(logger *slog.Logger) *LogSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSession{path: "/", loggedIn: true, logger: logger}
}

// SetCurrentPath records where the user currently is
func (s *LogSession) SetCurrentPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
}

// CurrentPath implements Session
func (s *LogSession) CurrentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Logout implements Session. Only the first logout of a session is logged.
func (s *LogSession) Logout(loginURL string) {
	s.mu.Lock()
	first := s.loggedIn
	s.loggedIn = false
	s.lastURL = loginURL
	s.mu.Unlock()

	if first {
		s.logger.Warn("session expired, log in again to continue",
			"login_url", loginURL)
	}
}

// LoggedIn reports whether Logout has not been called
func (s *LogSession) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// LoginURL returns the URL passed to the last Logout
func (s *LogSession) LoginURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastURL
}
