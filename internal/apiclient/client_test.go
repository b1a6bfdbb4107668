package apiclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/daimoniac/cdpilot/internal/errors"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://devtron.test/orchestrator"

func newTestClient(t *testing.T, cfg Config) (*Client, *LogSession) {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = testBaseURL
	}
	session := NewLogSession(nil)
	c, err := New(cfg, WithSession(session))
	require.NoError(t, err)

	httpmock.ActivateNonDefault(c.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c, session
}

func respond(status int, contentType, body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(status, body)
		if contentType != "" {
			resp.Header.Set("Content-Type", contentType)
		}
		return resp, nil
	}
}

func blockUntilCancelled(req *http.Request) (*http.Response, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}

func serverErrors(t *testing.T, err error) *errors.ServerErrors {
	t.Helper()
	var se *errors.ServerErrors
	require.True(t, stderrors.As(err, &se), "expected *ServerErrors, got %T: %v", err, err)
	return se
}

func TestExecuteJSONSuccess(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	body := `{"code":200,"status":"OK","result":[{"id":1,"name":"payments"}]}`
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/app/list", respond(200, "application/json; charset=utf-8", body))

	resp, err := c.Get(context.Background(), "app/list", nil)
	require.NoError(t, err)

	assert.Equal(t, ContentJSON, resp.Kind)
	assert.Equal(t, 200, resp.Code)
	assert.Equal(t, "OK", resp.Status)
	assert.JSONEq(t, `[{"id":1,"name":"payments"}]`, string(resp.Result))
	assert.Equal(t, body, string(resp.Body))

	type app struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	apps, err := DecodeResult[[]app](resp)
	require.NoError(t, err)
	assert.Equal(t, []app{{ID: 1, Name: "payments"}}, apps)
}

func TestExecuteUnauthorizedLogsOut(t *testing.T) {
	c, session := newTestClient(t, Config{LoginPath: "/login/sso"})
	session.SetCurrentPath("/app/12/trigger")

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/app/list", respond(401, "application/json", `{"code":401}`))

	resp, err := c.Get(context.Background(), "/app/list", nil)
	require.NoError(t, err, "401 resolves instead of rejecting")

	assert.True(t, resp.LoggedOut)
	assert.Equal(t, 401, resp.Code)
	assert.Equal(t, "Unauthorized", resp.Status)
	assert.Equal(t, "[]", string(resp.Result))

	assert.False(t, session.LoggedIn())
	loginURL, err := url.Parse(session.LoginURL())
	require.NoError(t, err)
	assert.Equal(t, "/login/sso", loginURL.Path)
	assert.Equal(t, "/app/12/trigger", loginURL.Query().Get("continue"))

	_, err = DecodeResult[[]string](resp)
	assert.ErrorIs(t, err, errors.ErrSessionExpired)
	assert.ErrorIs(t, err, errors.ErrUnauthorized)
}

func TestExecuteUnauthorizedPreventAutoLogout(t *testing.T) {
	c, session := newTestClient(t, Config{})

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/user/check", respond(401, "text/plain", "denied"))

	_, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "user/check", PreventAutoLogout: true})
	se := serverErrors(t, err)

	assert.Equal(t, 401, se.Code)
	assert.True(t, session.LoggedIn())
	assert.ErrorIs(t, err, errors.ErrUnauthorized)
}

func TestExecuteErrorStatus(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        []errors.ServerError
	}{
		{
			name:        "json errors forwarded verbatim",
			status:      422,
			contentType: "application/json",
			body:        `{"code":422,"errors":[{"code":"422","userMessage":"bad tag","internalMessage":"tag v9 not found"},{"code":422,"internalMessage":"second"}]}`,
			want: []errors.ServerError{
				{Code: 422, UserMessage: "bad tag", InternalMessage: "tag v9 not found"},
				{Code: 422, InternalMessage: "second"},
			},
		},
		{
			name:        "json without errors synthesizes one entry",
			status:      404,
			contentType: "application/json",
			body:        `{"code":404,"status":"Not Found"}`,
			want: []errors.ServerError{
				{Code: 404, UserMessage: "Not Found. Please try again.", InternalMessage: "Not Found. Please try again."},
			},
		},
		{
			name:        "html error page",
			status:      502,
			contentType: "text/html",
			body:        "<html>bad gateway</html>",
			want: []errors.ServerError{
				{Code: 502, UserMessage: "Bad Gateway. Please try again.", InternalMessage: "Bad Gateway. Please try again."},
			},
		},
		{
			name:        "vendor status without content type",
			status:      520,
			contentType: "",
			body:        "",
			want: []errors.ServerError{
				{Code: 520, UserMessage: "Web Server Returned an Unknown Error. Please try again.", InternalMessage: "Web Server Returned an Unknown Error. Please try again."},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, Config{})
			httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/app/cd-pipeline/trigger", respond(tt.status, tt.contentType, tt.body))

			_, err := c.Post(context.Background(), "app/cd-pipeline/trigger", map[string]int{"pipelineId": 1})
			se := serverErrors(t, err)

			assert.Equal(t, tt.status, se.Code)
			assert.Equal(t, tt.want, se.Errors)
		})
	}
}

func TestExecuteApplicationLogicError(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	body := `{"code":409,"status":"Conflict","errors":[{"code":"409","userMessage":"deployment in progress"}]}`
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/app/workflow/status", respond(200, "application/json", body))

	_, err := c.Get(context.Background(), "app/workflow/status", nil)
	se := serverErrors(t, err)

	assert.Equal(t, 409, se.Code)
	assert.Equal(t, "deployment in progress", se.Errors[0].UserMessage)
	assert.Equal(t, errors.KindApplicationLogic, errors.KindOf(err))
}

func TestExecuteOctetStream(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/app/ci-pipeline/1/artifacts/2", respond(200, "application/octet-stream", "binary-bytes"))

	resp, err := c.Get(context.Background(), "app/ci-pipeline/1/artifacts/2", nil)
	require.NoError(t, err)
	require.Equal(t, ContentStream, resp.Kind)
	require.NotNil(t, resp.Stream)
	defer resp.Stream.Close()

	data, err := io.ReadAll(resp.Stream)
	require.NoError(t, err)
	assert.Equal(t, "binary-bytes", string(data))

	_, err = DecodeResult[map[string]string](resp)
	assert.Error(t, err)
}

func TestExecuteUnsupportedContentType(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/health", respond(200, "text/plain", "ok"))

	resp, err := c.Get(context.Background(), "health", nil)
	require.NoError(t, err)

	assert.Equal(t, ContentUnsupported, resp.Kind)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Nil(t, resp.Result)
	assert.Nil(t, resp.Stream)
}

func TestExecuteNetworkFailure(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/app/list", httpmock.NewErrorResponder(stderrors.New("connection refused")))

	_, err := c.Get(context.Background(), "app/list", nil)
	se := serverErrors(t, err)

	assert.Equal(t, 0, se.Code)
	require.Len(t, se.Errors, 1)
	entry := se.Errors[0]
	assert.Contains(t, entry.UserMessage, "connection refused")
	assert.Equal(t, entry.UserMessage, entry.InternalMessage)
	assert.Equal(t, entry.UserMessage, entry.MoreInfo)
	assert.False(t, errors.IsAbortError(err))
	assert.Equal(t, errors.KindNetworkFailure, errors.KindOf(err))
}

func TestExecuteTimeout(t *testing.T) {
	c, _ := newTestClient(t, Config{Timeout: 5 * time.Second})

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/app/list", blockUntilCancelled)

	start := time.Now()
	_, err := c.Execute(context.Background(), Request{Method: http.MethodGet, Path: "app/list", Timeout: 100 * time.Millisecond})
	elapsed := time.Since(start)

	se := serverErrors(t, err)
	assert.Equal(t, 408, se.Code)
	assert.Equal(t, "Request cancelled", se.Errors[0].UserMessage)
	assert.Equal(t, "Request Cancelled", se.Errors[0].InternalMessage)
	assert.Less(t, elapsed, 2*time.Second, "the request timer, not the client timeout, must fire")
	assert.False(t, errors.IsAbortError(err))
}

func TestExecuteCallerCancel(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/app/list", blockUntilCancelled)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := c.Get(ctx, "app/list", nil)
	se := serverErrors(t, err)

	assert.Equal(t, 0, se.Code, "caller cancellation is not a timeout")
	assert.True(t, errors.IsAbortError(err))
}

func TestExecuteSendsJSONBodyAndCredentials(t *testing.T) {
	c, _ := newTestClient(t, Config{Token: "secret-token"})

	var gotBody map[string]interface{}
	var gotCookie, gotContentType string
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/app/cd-pipeline/trigger",
		func(req *http.Request) (*http.Response, error) {
			gotContentType = req.Header.Get("Content-Type")
			if cookie, err := req.Cookie(TokenCookie); err == nil {
				gotCookie = cookie.Value
			}
			_ = json.NewDecoder(req.Body).Decode(&gotBody)
			return httpmock.NewJsonResponse(200, map[string]interface{}{"code": 200, "status": "OK", "result": map[string]int{"workflowId": 9}})
		})

	_, err := c.Post(context.Background(), "app/cd-pipeline/trigger", map[string]interface{}{"pipelineId": 3, "cdWorkflowType": "DEPLOY"})
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "secret-token", gotCookie)
	assert.Equal(t, float64(3), gotBody["pipelineId"])
	assert.Equal(t, "DEPLOY", gotBody["cdWorkflowType"])
}

func TestExecuteMultipart(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	var gotField, gotFile string
	var gotContentType string
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/app/upload",
		func(req *http.Request) (*http.Response, error) {
			gotContentType = req.Header.Get("Content-Type")
			if err := req.ParseMultipartForm(1 << 20); err == nil {
				gotField = req.FormValue("description")
				if f, _, err := req.FormFile("file"); err == nil {
					data, _ := io.ReadAll(f)
					gotFile = string(data)
				}
			}
			return httpmock.NewJsonResponse(200, map[string]interface{}{"code": 200, "status": "OK"})
		})

	_, err := c.Execute(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "app/upload",
		Multipart: &Multipart{
			Fields: map[string]string{"description": "values override"},
			Files:  []File{{Param: "file", FileName: "values.yaml", Reader: strings.NewReader("replicas: 2")}},
		},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(gotContentType, "multipart/form-data"), gotContentType)
	assert.Equal(t, "values override", gotField)
	assert.Equal(t, "replicas: 2", gotFile)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, errors.IsPermanent(err))
}

func TestDecodeResultNull(t *testing.T) {
	resp := &Response{Kind: ContentJSON, Result: json.RawMessage("null")}
	got, err := DecodeResult[*struct{ ID int }](resp)
	require.NoError(t, err)
	assert.Nil(t, got)
}
