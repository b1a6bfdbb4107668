package apiclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/daimoniac/cdpilot/internal/errors"
)

// errTimerFired is the cancellation cause installed by the request timer. It
// lets Execute tell a real timeout apart from every other cancellation.
var errTimerFired = stderrors.New("request timer fired")

// Execute performs req and interprets the response:
//
//   - 401 without PreventAutoLogout logs the session out and resolves with
//     {code:401, status:"Unauthorized", result:[]}
//   - 300-599 rejects with the body's errors, or one entry built from the
//     status phrase when the body is not JSON
//   - 2xx JSON whose envelope code is 300-599 rejects with the envelope errors
//   - 2xx octet-stream resolves with the unread body
//   - any other 2xx content type resolves with Kind ContentUnsupported
//
// When the timer fires first the request is aborted and Execute returns a 408.
// Cancelling ctx yields a code 0 error that IsAbortError recognizes.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	tctx, cancel := context.WithTimeoutCause(ctx, timeout, errTimerFired)
	keepAlive := false
	defer func() {
		if !keepAlive {
			cancel()
		}
	}()

	start := time.Now()
	r := c.rc.R().
		SetContext(tctx).
		SetDoNotParseResponse(true)

	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}

	if req.Multipart != nil {
		if len(req.Multipart.Fields) > 0 {
			r.SetMultipartFormData(req.Multipart.Fields)
		}
		for _, f := range req.Multipart.Files {
			r.SetFileReader(f.Param, f.FileName, f.Reader)
		}
	} else if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.NewPermanentf("failed to encode request body: %w", err)
		}
		r.SetHeader("Content-Type", "application/json").SetBody(payload)
	}

	c.logger.Debug("orchestrator request",
		"method", req.Method,
		"path", req.Path,
		"timeout", timeout.String())

	resp, err := r.Execute(req.Method, req.Path)
	if err != nil {
		return nil, c.failure(ctx, tctx, req, start, err)
	}

	raw := resp.RawBody()
	status := resp.StatusCode()
	header := resp.Header()

	if status == http.StatusUnauthorized && !req.PreventAutoLogout {
		drain(raw)
		c.observe(req, start, status)
		c.metrics.AutoLogouts.Inc()
		c.session.Logout(c.loginURL())
		return &Response{
			Kind:       ContentJSON,
			StatusCode: status,
			Header:     header,
			Code:       http.StatusUnauthorized,
			Status:     "Unauthorized",
			Result:     json.RawMessage("[]"),
			LoggedOut:  true,
		}, nil
	}

	mediaType := contentType(header)

	if status >= 300 && status <= 599 {
		defer drain(raw)
		if mediaType != "application/json" {
			c.observe(req, start, status)
			return nil, errors.NewServerErrors(status, nil, errors.UserMessageForStatus(status))
		}
		body, err := io.ReadAll(raw)
		if err != nil {
			return nil, c.failure(ctx, tctx, req, start, err)
		}
		c.observe(req, start, status)
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, errors.NewServerErrors(status, nil, errors.UserMessageForStatus(status))
		}
		return nil, errors.NewServerErrors(status, env.Errors, errors.UserMessageForStatus(status))
	}

	switch mediaType {
	case "application/json":
		defer drain(raw)
		body, err := io.ReadAll(raw)
		if err != nil {
			return nil, c.failure(ctx, tctx, req, start, err)
		}
		c.observe(req, start, status)

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, errors.NewServerErrors(status, []errors.ServerError{{
				Code:            status,
				UserMessage:     "Invalid response from server",
				InternalMessage: err.Error(),
			}}, "")
		}

		// The upstream sometimes answers 200 with an error envelope
		code := int(env.Code)
		if code >= 300 && code <= 599 {
			return nil, errors.NewServerErrors(code, env.Errors, errors.UserMessageForStatus(code))
		}

		return &Response{
			Kind:       ContentJSON,
			StatusCode: status,
			Header:     header,
			Code:       code,
			Status:     env.Status,
			Result:     env.Result,
			Errors:     env.Errors,
			Body:       body,
		}, nil

	case "application/octet-stream":
		c.observe(req, start, status)
		keepAlive = true
		return &Response{
			Kind:       ContentStream,
			StatusCode: status,
			Header:     header,
			Stream:     &cancelOnClose{ReadCloser: raw, cancel: cancel},
		}, nil
	}

	drain(raw)
	c.observe(req, start, status)
	c.logger.Debug("unsupported response content type",
		"method", req.Method,
		"path", req.Path,
		"content_type", header.Get("Content-Type"))
	return &Response{
		Kind:       ContentUnsupported,
		StatusCode: status,
		Header:     header,
	}, nil
}

// failure classifies a transport or body read error. Structured errors pass
// through unchanged; a 408 is only produced when the timer won the race.
func (c *Client) failure(ctx, tctx context.Context, req Request, start time.Time, err error) error {
	var serverErrs *errors.ServerErrors
	if stderrors.As(err, &serverErrs) {
		c.observe(req, start, serverErrs.Code)
		return serverErrs
	}

	if stderrors.Is(context.Cause(tctx), errTimerFired) && ctx.Err() == nil {
		c.observe(req, start, http.StatusRequestTimeout)
		c.metrics.RequestTimeouts.Inc()
		c.logger.Warn("orchestrator request timed out",
			"method", req.Method,
			"path", req.Path)
		return errors.NewTimeoutError()
	}

	if ctx.Err() != nil {
		c.observe(req, start, 0)
		c.metrics.RequestAborts.Inc()
		c.logger.Debug("orchestrator request aborted",
			"method", req.Method,
			"path", req.Path,
			"cause", context.Cause(ctx).Error())
		return errors.NewNetworkError(fmt.Errorf("request aborted: %w", context.Cause(ctx)))
	}

	c.observe(req, start, 0)
	c.logger.Debug("orchestrator request failed",
		"method", req.Method,
		"path", req.Path,
		"error", err.Error())
	return errors.NewNetworkError(err)
}

func (c *Client) observe(req Request, start time.Time, code int) {
	c.metrics.RequestsTotal.WithLabelValues(req.Method, strconv.Itoa(code)).Inc()
	c.metrics.RequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
}

func contentType(h http.Header) string {
	mediaType, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mediaType
}

func drain(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

// cancelOnClose releases the request context once the stream is closed
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
