// Package apiclient executes requests against the orchestrator API and turns
// every failure into a *errors.ServerErrors.
package apiclient

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/daimoniac/cdpilot/internal/errors"
	"github.com/daimoniac/cdpilot/internal/observability"
	"github.com/go-resty/resty/v2"
)

const (
	// DefaultTimeout applies when neither the request nor the client sets one
	DefaultTimeout = 60000 * time.Millisecond

	// DefaultLoginPath is where an expired session is sent
	DefaultLoginPath = "/login/sso"

	// TokenCookie carries the session token
	TokenCookie = "argocd.token"
)

// Config configures a Client
type Config struct {
	// BaseURL is the orchestrator root, e.g. https://devtron.example.com/orchestrator
	BaseURL string
	// Token is installed as the session cookie when set
	Token string
	// Timeout is the client wide request timeout
	Timeout time.Duration
	// LoginPath is the login route used on automatic logout
	LoginPath string
	Logger    *slog.Logger
}

// Session is the navigation surface the client drives on automatic logout.
type Session interface {
	// CurrentPath is the location the user should return to after login
	CurrentPath() string
	// Logout ends the session and sends the user to loginURL
	Logout(loginURL string)
}

// Client executes orchestrator requests
type Client struct {
	rc        *resty.Client
	timeout   time.Duration
	loginPath string
	session   Session
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// Option customizes a Client
type Option func(*Client)

// WithSession sets the session driven on automatic logout
func WithSession(s Session) Option {
	return func(c *Client) {
		c.session = s
	}
}

// WithTransport replaces the HTTP transport
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.rc.SetTransport(rt)
	}
}

// New creates a client for cfg
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.NewPermanentf("orchestrator base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.NewPermanentf("invalid orchestrator base URL %q: %w", cfg.BaseURL, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	loginPath := cfg.LoginPath
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}

	// resty installs a cookie jar by default, so credentials ride along on
	// every request.
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetLogger(restyLogger{logger: logger}).
		SetHeader("Accept", "application/json")

	if cfg.Token != "" {
		rc.SetCookie(&http.Cookie{Name: TokenCookie, Value: cfg.Token, Path: "/"})
		rc.SetHeader("token", cfg.Token)
	}

	c := &Client{
		rc:        rc,
		timeout:   timeout,
		loginPath: loginPath,
		logger:    logger,
		metrics:   observability.GetMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.session == nil {
		c.session = NewLogSession(logger)
	}

	return c, nil
}

// HTTPClient exposes the underlying http.Client, mainly for transport mocks
func (c *Client) HTTPClient() *http.Client {
	return c.rc.GetClient()
}

// Timeout returns the client wide timeout
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

func (c *Client) loginURL() string {
	return c.loginPath + "?" + url.Values{"continue": {c.session.CurrentPath()}}.Encode()
}

// restyLogger routes resty's own diagnostics through slog
type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...), "component", "resty")
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...), "component", "resty")
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "resty")
}
