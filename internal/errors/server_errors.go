package errors

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ServerError is a single error entry as returned by the orchestrator.
type ServerError struct {
	Code            int    `json:"code"`
	UserMessage     string `json:"userMessage"`
	InternalMessage string `json:"internalMessage"`
	MoreInfo        string `json:"moreInfo,omitempty"`
}

// UnmarshalJSON accepts the code as a JSON number or a numeric string. Any
// field missing from the payload keeps its zero value.
func (e *ServerError) UnmarshalJSON(data []byte) error {
	var raw struct {
		Code            json.RawMessage `json:"code"`
		UserMessage     *string         `json:"userMessage"`
		InternalMessage *string         `json:"internalMessage"`
		MoreInfo        *string         `json:"moreInfo"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*e = ServerError{
		Code:            parseCode(raw.Code),
		UserMessage:     deref(raw.UserMessage),
		InternalMessage: deref(raw.InternalMessage),
		MoreInfo:        deref(raw.MoreInfo),
	}
	return nil
}

// Message returns the internal message, falling back to the user message.
func (e ServerError) Message() string {
	if e.InternalMessage != "" {
		return e.InternalMessage
	}
	return e.UserMessage
}

// ServerErrors is the error type returned for every failed orchestrator call.
// Errors is never empty.
type ServerErrors struct {
	Code   int
	Errors []ServerError
}

// NewServerErrors builds a ServerErrors. When errs is empty a single entry
// carrying statusText is synthesized.
func NewServerErrors(code int, errs []ServerError, statusText string) *ServerErrors {
	if len(errs) == 0 {
		errs = []ServerError{{
			Code:            code,
			UserMessage:     statusText,
			InternalMessage: statusText,
		}}
	}
	out := make([]ServerError, len(errs))
	copy(out, errs)
	return &ServerErrors{Code: code, Errors: out}
}

// NewNetworkError wraps a transport failure as a code 0 ServerErrors.
func NewNetworkError(cause error) *ServerErrors {
	msg := "network error"
	if cause != nil {
		msg = cause.Error()
	}
	return &ServerErrors{
		Code: 0,
		Errors: []ServerError{{
			Code:            0,
			UserMessage:     msg,
			InternalMessage: msg,
			MoreInfo:        msg,
		}},
	}
}

// NewTimeoutError builds the 408 error raised when the request timer fires.
func NewTimeoutError() *ServerErrors {
	return &ServerErrors{
		Code: 408,
		Errors: []ServerError{{
			Code:            408,
			UserMessage:     "Request cancelled",
			InternalMessage: "Request Cancelled",
		}},
	}
}

func (e *ServerErrors) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, entry := range e.Errors {
		msgs = append(msgs, entry.Message())
	}
	return strings.Join(msgs, ", ")
}

// Unwrap maps the status code onto the package sentinels so callers can use
// errors.Is(err, ErrForbidden) and friends.
func (e *ServerErrors) Unwrap() error {
	switch {
	case e.Code == 0:
		return ErrNetwork
	case e.Code == 401:
		return ErrUnauthorized
	case e.Code == 403:
		return ErrForbidden
	case e.Code == 404:
		return ErrNotFound
	case e.Code == 408:
		return ErrTimeout
	case e.Code == 417 || e.Code == 422:
		return ErrInvalidInput
	case e.Code == 429:
		return ErrRateLimit
	case e.Code >= 500 && e.Code <= 599:
		return ErrServerFault
	}
	return nil
}

// Kind classifies an error into the client-facing taxonomy.
type Kind string

const (
	KindNetworkFailure   Kind = "NetworkFailure"
	KindTimeout          Kind = "Timeout"
	KindUnauthorized     Kind = "Unauthorized"
	KindForbidden        Kind = "Forbidden"
	KindNotFound         Kind = "NotFound"
	KindValidationFailed Kind = "ValidationFailed"
	KindServerFault      Kind = "ServerFault"
	KindApplicationLogic Kind = "ApplicationLogic"
	KindUnknown          Kind = "Unknown"
)

// KindOf returns the taxonomy entry for err. Codes without a dedicated class
// that still arrived as ServerErrors are treated as application logic errors.
func KindOf(err error) Kind {
	var serverErrs *ServerErrors
	if !errors.As(err, &serverErrs) {
		return KindUnknown
	}
	switch {
	case serverErrs.Code == 0:
		return KindNetworkFailure
	case serverErrs.Code == 408:
		return KindTimeout
	case serverErrs.Code == 401:
		return KindUnauthorized
	case serverErrs.Code == 403:
		return KindForbidden
	case serverErrs.Code == 404:
		return KindNotFound
	case serverErrs.Code == 417 || serverErrs.Code == 422:
		return KindValidationFailed
	case serverErrs.Code >= 500 && serverErrs.Code <= 599:
		return KindServerFault
	}
	return KindApplicationLogic
}

var abortPattern = regexp.MustCompile(`(?i)abort|context canceled|request cancell?ed`)

// IsAbortError reports whether err is a code 0 failure caused by the caller
// aborting the request. Those are not user facing.
func IsAbortError(err error) bool {
	var serverErrs *ServerErrors
	if !errors.As(err, &serverErrs) || serverErrs.Code != 0 {
		return false
	}
	for _, entry := range serverErrs.Errors {
		if abortPattern.MatchString(entry.InternalMessage) || abortPattern.MatchString(entry.UserMessage) {
			return true
		}
	}
	return false
}

// CodeOf returns the status code carried by err, or -1.
func CodeOf(err error) int {
	var serverErrs *ServerErrors
	if errors.As(err, &serverErrs) {
		return serverErrs.Code
	}
	return -1
}

func parseCode(raw json.RawMessage) int {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return int(v)
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v
		}
	}
	return 0
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
