package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rsh/internal/synthetic"
)

func newTestClient(url string, opts ...Option) *Client {
	opts = append([]Option{WithRetry(2, time.Millisecond, 5*time.Millisecond)}, opts...)
	return NewClient(url, opts...)
}

func TestClient_GetUnauthorized(t *testing.T) {
	srv := synthetic.NewPlatformServer()
	defer srv.Close()
	srv.RequireAuth(true)

	c := newTestClient(srv.URL())
	var index Index
	err := c.Get(context.Background(), BuildIndexURL(srv.URL(), ""), "get index", &index)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, srv.Count("index"), "401 must not be retried")
}

func TestClient_BasicAuthFromKey(t *testing.T) {
	srv := synthetic.NewPlatformServer()
	defer srv.Close()
	srv.RequireAuth(true)

	c := newTestClient(srv.URL(), WithAPIKey(&APIKey{PublicValue: "PUBLIC", SecretValue: "SECRET"}))
	var index Index
	err := c.Get(context.Background(), BuildIndexURL(srv.URL(), ""), "get index", &index)

	require.NoError(t, err)
	assert.Contains(t, index.Links, "projects")
}

func TestClient_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	err := c.Get(context.Background(), server.URL, "get index", nil)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
	assert.Equal(t, "get index", httpErr.Operation)
}

func TestClient_RetriesGetOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"links":{"projects":"http://example.invalid/projects"}}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	var index Index
	err := c.Get(context.Background(), server.URL, "get index", &index)

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "http://example.invalid/projects", index.Links["projects"])
}

func TestClient_DoesNotRetryPost(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	err := c.Post(context.Background(), server.URL, "execute", map[string]string{}, nil)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Login(t *testing.T) {
	srv := synthetic.NewPlatformServer()
	defer srv.Close()

	c := newTestClient(srv.URL())
	key, err := c.Login(context.Background(), "alice", "s3cret", "")

	require.NoError(t, err)
	assert.Equal(t, &APIKey{PublicValue: "PUBLIC", SecretValue: "SECRET"}, key)
	assert.Nil(t, c.APIKey(), "login must not install the key")
	assert.Equal(t, 1, srv.Count("token"))
	assert.Equal(t, 1, srv.Count("apikey"))
}

func TestClient_LoginWrongPassword(t *testing.T) {
	srv := synthetic.NewPlatformServer()
	defer srv.Close()

	c := newTestClient(srv.URL())
	_, err := c.Login(context.Background(), "alice", "wrong", "")

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, srv.Count("apikey"))
}

func TestClient_ExecAndLogs(t *testing.T) {
	srv := synthetic.NewPlatformServer()
	defer srv.Close()

	container := Container{
		ID: "1i7",
		Actions: Links{
			"execute": srv.URL() + "/v2-beta/containers/1i7/execute",
			"logs":    srv.URL() + "/v2-beta/containers/1i7/logs",
		},
	}
	c := newTestClient(srv.URL())

	access, err := c.Exec(context.Background(), container, NewContainerExec([]string{"/bin/sh", "-c", "id"}, true))
	require.NoError(t, err)
	assert.Equal(t, "token-1i7", access.Token)

	execs := srv.Execs()
	require.Len(t, execs, 1)
	assert.True(t, execs[0].AttachStdin)
	assert.True(t, execs[0].AttachStdout)
	assert.True(t, execs[0].TTY)
	assert.Equal(t, []string{"/bin/sh", "-c", "id"}, execs[0].Command)

	_, err = c.Logs(context.Background(), container, ContainerLogs{Follow: true, Lines: 10})
	require.NoError(t, err)
	assert.Equal(t, []synthetic.LogsRequest{{Follow: true, Lines: 10}}, srv.LogRequests())
}

func TestClient_ActionMissing(t *testing.T) {
	c := newTestClient("http://example.invalid")
	_, err := c.Exec(context.Background(), Container{Name: "web-1"}, NewContainerExec(nil, false))

	var structural *StructuralError
	require.ErrorAs(t, err, &structural)
	assert.Equal(t, "execute", structural.Link)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestHostAccess_AuthedURL(t *testing.T) {
	h := &HostAccess{Token: "a b&c", URL: "ws://rancher.example.com:8080/v1/exec/?x=1"}

	got, err := h.AuthedURL()

	require.NoError(t, err)
	assert.Equal(t, "ws://rancher.example.com:8080/v1/exec/?token=a+b%26c&x=1", got)
}

func TestContainerExec_JSON(t *testing.T) {
	data, err := json.Marshal(NewContainerExec([]string{"ls"}, false))

	require.NoError(t, err)
	assert.JSONEq(t, `{"attachStdin":true,"attachStdout":true,"command":["ls"],"tty":false}`, string(data))
}
