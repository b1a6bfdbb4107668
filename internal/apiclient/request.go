package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/daimoniac/cdpilot/internal/errors"
)

// Request describes one orchestrator call. It is not modified by Execute.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is JSON encoded unless Multipart is set
	Body interface{}
	// Timeout overrides the client timeout for this call
	Timeout time.Duration
	// PreventAutoLogout turns a 401 into an error instead of a logout
	PreventAutoLogout bool
	// Multipart sends Fields and Files as multipart/form-data
	Multipart *Multipart
}

// Multipart is a form upload passed through as is
type Multipart struct {
	Fields map[string]string
	Files  []File
}

// File is one multipart file part
type File struct {
	Param    string
	FileName string
	Reader   io.Reader
}

// ContentKind tells how a successful response body was handled
type ContentKind int

const (
	// ContentJSON means the envelope fields are populated
	ContentJSON ContentKind = iota
	// ContentStream means Stream holds the unread body
	ContentStream
	// ContentUnsupported means the body had a content type the client does
	// not interpret. It was discarded.
	ContentUnsupported
)

func (k ContentKind) String() string {
	switch k {
	case ContentJSON:
		return "json"
	case ContentStream:
		return "stream"
	case ContentUnsupported:
		return "unsupported"
	}
	return "unknown"
}

// Response is a successful orchestrator response
type Response struct {
	Kind       ContentKind
	StatusCode int
	Header     http.Header

	// Envelope fields, set for ContentJSON
	Code   int
	Status string
	Result json.RawMessage
	Errors []errors.ServerError
	Body   []byte

	// Stream is the raw body for ContentStream. The caller must close it.
	Stream io.ReadCloser

	// LoggedOut is set when a 401 triggered an automatic logout
	LoggedOut bool
}

// DecodeResult unmarshals the envelope result into T. An absent or null
// result yields the zero value.
func DecodeResult[T any](resp *Response) (T, error) {
	var out T
	if resp == nil {
		return out, nil
	}
	if resp.LoggedOut {
		return out, errors.ErrSessionExpired
	}
	if resp.Kind != ContentJSON {
		return out, errors.NewPermanentf("cannot decode %s response as JSON", resp.Kind)
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		return out, errors.NewPermanentf("failed to decode response result: %w", err)
	}
	return out, nil
}

// envelope is the wire shape shared by every orchestrator response
type envelope struct {
	Code   flexInt              `json:"code"`
	Status string               `json:"status"`
	Result json.RawMessage      `json:"result"`
	Errors []errors.ServerError `json:"errors"`
}

// flexInt accepts a JSON number or a numeric string
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// Get issues a GET request
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Execute(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post issues a POST request with a JSON body
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Execute(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put issues a PUT request with a JSON body
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Execute(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch issues a PATCH request with a JSON body
func (c *Client) Patch(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Execute(ctx, Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete issues a DELETE request with an optional JSON body
func (c *Client) Delete(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Execute(ctx, Request{Method: http.MethodDelete, Path: path, Body: body})
}
