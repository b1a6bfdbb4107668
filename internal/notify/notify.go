// Package notify turns errors into user notices and telemetry reports.
package notify

import (
	"errors"
	"log/slog"
	"strings"

	cdperrors "github.com/daimoniac/cdpilot/internal/errors"
	"github.com/daimoniac/cdpilot/internal/observability"
)

const (
	// AccessDeniedMessage is shown instead of the server text for permission errors
	AccessDeniedMessage = "You do not have required access to perform this action"

	// FallbackMessage is shown for unknown errors that carry no message
	FallbackMessage = "Some Error Occurred"
)

// NoticeType is the severity of a notice
type NoticeType string

const (
	NoticeError         NoticeType = "error"
	NoticeNotAuthorized NoticeType = "notAuthorized"
	NoticeWarning       NoticeType = "warning"
	NoticeSuccess       NoticeType = "success"
	NoticeInfo          NoticeType = "info"
)

// Notice is one dismissible message for the user
type Notice struct {
	Type        NoticeType
	Title       string
	Description string
}

// Notifier displays notices
type Notifier interface {
	Notify(n Notice)
}

// Telemetry receives errors nobody handled
type Telemetry interface {
	CaptureException(err error)
}

// Options tune Show for a single call site
type Options struct {
	// HideAccessError suppresses the access denied notice
	HideAccessError bool
	// ShowToastOnUnknownError emits a notice for non-server errors
	ShowToastOnUnknownError bool
}

// DefaultOptions matches the behaviour of most call sites
func DefaultOptions() Options {
	return Options{ShowToastOnUnknownError: true}
}

// Policy is the single place deciding how an error reaches the user
type Policy struct {
	notifier  Notifier
	telemetry Telemetry
}

// NewPolicy creates a policy. A nil telemetry drops reports.
func NewPolicy(notifier Notifier, telemetry Telemetry) *Policy {
	return &Policy{notifier: notifier, telemetry: telemetry}
}

// Show surfaces err and returns the notices it emitted.
func (p *Policy) Show(err error, opts Options) []Notice {
	// Aborts are silent and an expired session has already been logged out
	if err == nil || cdperrors.IsAbortError(err) || errors.Is(err, cdperrors.ErrSessionExpired) {
		return nil
	}

	var notices []Notice

	var serverErrs *cdperrors.ServerErrors
	if errors.As(err, &serverErrs) {
		for _, entry := range serverErrs.Errors {
			if serverErrs.Code == 403 && isAccessError(entry.UserMessage) {
				if !opts.HideAccessError {
					notices = append(notices, Notice{
						Type:        NoticeNotAuthorized,
						Title:       "Access denied",
						Description: AccessDeniedMessage,
					})
				}
				continue
			}
			msg := entry.UserMessage
			if msg == "" {
				msg = entry.InternalMessage
			}
			notices = append(notices, Notice{Type: NoticeError, Description: msg})
		}
	} else {
		if p.telemetry != nil && !isQuietCode(err) {
			p.telemetry.CaptureException(err)
		}
		if opts.ShowToastOnUnknownError {
			msg := err.Error()
			if msg == "" {
				msg = FallbackMessage
			}
			notices = append(notices, Notice{Type: NoticeError, Description: msg})
		}
	}

	metrics := observability.GetMetrics()
	for _, n := range notices {
		metrics.NoticesShown.WithLabelValues(string(n.Type)).Inc()
		if p.notifier != nil {
			p.notifier.Notify(n)
		}
	}
	return notices
}

func isAccessError(userMessage string) bool {
	msg := strings.ToLower(userMessage)
	return msg == "unauthorized" || msg == "forbidden"
}

// coder lets foreign error types participate in the 403/408 telemetry filter
type coder interface {
	StatusCode() int
}

func isQuietCode(err error) bool {
	var c coder
	if errors.As(err, &c) {
		code := c.StatusCode()
		return code == 403 || code == 408
	}
	return errors.Is(err, cdperrors.ErrForbidden) || errors.Is(err, cdperrors.ErrTimeout)
}

// LogNotifier writes notices through slog
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by logger
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs n at a level matching its type
func (l *LogNotifier) Notify(n Notice) {
	attrs := []any{"type", string(n.Type), "description", n.Description}
	if n.Title != "" {
		attrs = append(attrs, "title", n.Title)
	}
	switch n.Type {
	case NoticeError, NoticeNotAuthorized:
		l.logger.Error("notice", attrs...)
	case NoticeWarning:
		l.logger.Warn("notice", attrs...)
	default:
		l.logger.Info("notice", attrs...)
	}
}
