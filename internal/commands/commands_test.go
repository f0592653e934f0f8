package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"rsh/internal/synthetic"
	"rsh/pkg/config"
	"rsh/pkg/credentials"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type result struct {
	code   int
	stdout string
	stderr string
}

// blockingStdin never yields data, like an idle terminal.
func blockingStdin(t *testing.T) io.Reader {
	t.Helper()
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	return pr
}

func run(t *testing.T, build func(Streams) *cobra.Command, stdin io.Reader, args ...string) result {
	t.Helper()
	out, errOut := &syncBuffer{}, &syncBuffer{}
	streams := Streams{In: stdin, Out: out, ErrOut: errOut}
	cmd := build(streams)
	cmd.SetArgs(args)
	code := Execute(cmd, streams)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

// isolate points HOME at an empty directory so that no real configuration
// or stored keys are used.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("TERM", "dumb")
	return home
}

func shopEnvironment() synthetic.Environment {
	return synthetic.Environment{
		Name: "Default",
		Stacks: []synthetic.Stack{{
			Name: "shop",
			Services: []synthetic.Service{
				{
					Name: "web",
					Containers: []synthetic.Container{
						{ID: "1i1", Name: "shop-web-1", Actions: []string{"execute", "logs"}},
						{ID: "1i2", Name: "shop-web-2", Actions: []string{"logs"}},
					},
				},
				{
					Name: "worker",
					Containers: []synthetic.Container{
						{ID: "1i5", Name: "shop-worker-1", Actions: []string{"execute", "logs"}},
					},
				},
			},
		}},
	}
}

func hostPort(t *testing.T, srv *synthetic.PlatformServer) string {
	t.Helper()
	u, err := url.Parse(srv.URL())
	require.NoError(t, err)
	return u.Host
}

func TestRsh_RunsCommand(t *testing.T) {
	isolate(t)
	srv := synthetic.NewPlatformServer(shopEnvironment())
	defer srv.Close()
	srv.Exec = synthetic.WriteFrames("hi\n")

	res := run(t, NewRsh, blockingStdin(t), srv.URL()+"/shop/web", "echo", "hi")

	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "hi\n", res.stdout)
	assert.Empty(t, res.stderr, "a command line implies quiet mode")

	execs := srv.Execs()
	require.Len(t, execs, 1)
	assert.False(t, execs[0].TTY)
	assert.Equal(t, []string{"/bin/sh", "-c", "TERM='dumb'; export TERM; echo hi"}, execs[0].Command)
}

func TestRsh_DefaultCommand(t *testing.T) {
	isolate(t)
	srv := synthetic.NewPlatformServer(shopEnvironment())
	defer srv.Close()
	srv.Exec = synthetic.WriteFrames("bye\n")

	res := run(t, NewRsh, blockingStdin(t), "-l", "deploy", srv.URL()+"/shop/worker")

	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "bye\n", res.stdout)
	assert.Contains(t, res.stderr, "Connection to "+srv.URL()+" closed.")

	execs := srv.Execs()
	require.Len(t, execs, 1)
	assert.Equal(t, "TERM='dumb'; export TERM; login -p -f deploy", execs[0].Command[2])
}

func TestRsh_LogsInAndStoresKey(t *testing.T) {
	home := isolate(t)
	srv := synthetic.NewPlatformServer(shopEnvironment())
	defer srv.Close()
	srv.RequireAuth(true)
	srv.Exec = synthetic.WriteFrames("hi\n")

	stdin := io.MultiReader(strings.NewReader("alice\ns3cret\n"), blockingStdin(t))
	res := run(t, NewRsh, stdin, srv.URL()+"/shop/web", "true")

	assert.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Rancher User")
	assert.Contains(t, res.stdout, "Rancher Password: ")
	assert.True(t, strings.HasSuffix(res.stdout, "hi\n"))
	assert.Equal(t, 1, srv.Count("token"))

	store := credentials.NewStore(filepath.Join(home, ".rsh", "keys"))
	key, err := store.Load(hostPort(t, srv))
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, "PUBLIC", key.PublicValue)

	// The stored key is used without prompting.
	res = run(t, NewRsh, blockingStdin(t), srv.URL()+"/shop/web", "true")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "hi\n", res.stdout)
	assert.Equal(t, 1, srv.Count("token"))
}

func TestRsh_InputTypedAheadOfLoginIsForwarded(t *testing.T) {
	isolate(t)
	srv := synthetic.NewPlatformServer(shopEnvironment())
	defer srv.Close()
	srv.RequireAuth(true)
	srv.Exec = func(conn *websocket.Conn, _ string) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, msg)
		synthetic.CloseNormal(conn)
	}

	stdin := io.MultiReader(strings.NewReader("alice\ns3cret\nuptime\r"), blockingStdin(t))
	res := run(t, NewRsh, stdin, srv.URL()+"/shop/web", "cat")

	assert.Equal(t, 0, res.code, res.stderr)
	assert.True(t, strings.HasSuffix(res.stdout, "uptime\r"), res.stdout)
}

func TestRsh_WrongPassword(t *testing.T) {
	isolate(t)
	srv := synthetic.NewPlatformServer(shopEnvironment())
	defer srv.Close()
	srv.RequireAuth(true)

	res := run(t, NewRsh, strings.NewReader("alice\nnope\n"), srv.URL()+"/shop/web", "true")

	assert.Equal(t, 1, res.code)
	assert.True(t, strings.HasPrefix(res.stderr, "rsh: authentication failed for "), res.stderr)
	assert.Equal(t, 0, srv.Count("execute"))
}

func TestRsh_Failures(t *testing.T) {
	isolate(t)
	srv := synthetic.NewPlatformServer(shopEnvironment())
	defer srv.Close()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no such service", []string{srv.URL() + "/shop/cache", "true"}, "rsh: no such service: cache\n"},
		{"no such stack", []string{srv.URL() + "/blog/web", "true"}, "rsh: no such stack: blog\n"},
		{"bad escape", []string{"-e", "ab", srv.URL() + "/shop/web"}, "rsh: Bad escape character 'ab'.\n"},
		{"bad port", []string{"-p", "http", "rancher/web"}, "rsh: Bad port 'http'.\n"},
		{"missing service", []string{"rancher"}, "rsh: Missing service\n"},
		{"bad option", []string{"-o", "color=yes", "rancher/web"}, "rsh: Bad configuration option: color.\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, NewRsh, blockingStdin(t), tt.args...)

			assert.Equal(t, 1, res.code)
			assert.Equal(t, tt.want, res.stderr)
		})
	}
}

func TestRsh_FailedResolutionClosesSession(t *testing.T) {
	isolate(t)
	srv := synthetic.NewPlatformServer(shopEnvironment())
	defer srv.Close()

	res := run(t, NewRsh, blockingStdin(t), "-v", srv.URL()+"/shop/cache", "true")

	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "session state")
	assert.Contains(t, res.stderr, "from=resolving")
	assert.Contains(t, res.stderr, "to=closed")
	assert.True(t, strings.HasSuffix(res.stderr, "rsh: no such service: cache\n"))
}

func TestRsh_PrintConfig(t *testing.T) {
	home := isolate(t)
	cfgFile := filepath.Join(home, "rsh.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("user: deploy\nhosts:\n  prod:\n    hostname: rancher.example.com\n    environment: production\n"), 0o644))

	t.Run("text", func(t *testing.T) {
		res := run(t, NewRsh, blockingStdin(t), "-F", cfgFile, "-G", "-p", "8443", "-tt", "prod/shop/web")

		require.Equal(t, 0, res.code, res.stderr)
		assert.Contains(t, res.stdout, "hostname rancher.example.com\n")
		assert.Contains(t, res.stdout, "port 8443\n")
		assert.Contains(t, res.stdout, "environment production\n")
		assert.Contains(t, res.stdout, "user deploy\n")
		assert.Contains(t, res.stdout, "requesttty force\n")
	})

	t.Run("json", func(t *testing.T) {
		res := run(t, NewRsh, blockingStdin(t), "-F", cfgFile, "-G", "--format", "json", "-e", "none", "prod/web")

		require.Equal(t, 0, res.code, res.stderr)
		var opts config.Options
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &opts))
		assert.Equal(t, "rancher.example.com", opts.Hostname)
		assert.Equal(t, "none", opts.EscapeChar)
		assert.Equal(t, "web", opts.Stack)
	})
}

func TestRsh_Version(t *testing.T) {
	res := run(t, NewRsh, blockingStdin(t), "--version")

	assert.Equal(t, 0, res.code)
	assert.Equal(t, "rsh dev\n", res.stdout)
}

func TestRtail_AllContainers(t *testing.T) {
	isolate(t)
	srv := synthetic.NewPlatformServer(shopEnvironment())
	defer srv.Close()

	res := run(t, NewRtail, blockingStdin(t), "-n", "5", srv.URL()+"/shop/web")

	assert.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "==> shop-web-1 <==\nlog line from 1i1\n")
	assert.Contains(t, res.stdout, "==> shop-web-2 <==\nlog line from 1i2\n")
	assert.Equal(t, []synthetic.LogsRequest{{Lines: 5}, {Lines: 5}}, srv.LogRequests())
}

func TestRtail_QuietAndFollow(t *testing.T) {
	isolate(t)
	srv := synthetic.NewPlatformServer(shopEnvironment())
	defer srv.Close()

	res := run(t, NewRtail, blockingStdin(t), "-q", "-f", srv.URL()+"/shop/web")

	assert.Equal(t, 0, res.code, res.stderr)
	assert.NotContains(t, res.stdout, "==>")
	assert.Len(t, strings.Split(strings.TrimSpace(res.stdout), "\n"), 2)
	for _, req := range srv.LogRequests() {
		assert.Equal(t, synthetic.LogsRequest{Follow: true, Lines: 10}, req)
	}
}

func TestRtail_SingleContainerHasNoHeader(t *testing.T) {
	isolate(t)
	srv := synthetic.NewPlatformServer(shopEnvironment())
	defer srv.Close()

	res := run(t, NewRtail, blockingStdin(t), srv.URL()+"/shop/worker")

	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "log line from 1i5\n", res.stdout)
}

func TestRtail_MissingServiceFailsButTailsTheRest(t *testing.T) {
	isolate(t)
	srv := synthetic.NewPlatformServer(shopEnvironment())
	defer srv.Close()

	res := run(t, NewRtail, blockingStdin(t), srv.URL()+"/shop/cache", srv.URL()+"/shop/worker")

	assert.Equal(t, 1, res.code)
	assert.Equal(t, "rtail: "+srv.URL()+"/shop/cache: no such service: cache\n", res.stderr)
	assert.Equal(t, "log line from 1i5\n", res.stdout)
}

func TestRtail_PrintConfig(t *testing.T) {
	isolate(t)

	res := run(t, NewRtail, blockingStdin(t), "-G", "--format", "yaml", "rancher/shop/web", "http://other:8080/db")

	require.Equal(t, 0, res.code, res.stderr)
	var all []config.Options
	require.NoError(t, yaml.Unmarshal([]byte(res.stdout), &all))
	require.Len(t, all, 2)
	assert.Equal(t, "rancher", all[0].Hostname)
	assert.Equal(t, "shop", all[0].Stack)
	assert.Equal(t, 8080, all[1].Port)
	assert.Equal(t, "db", all[1].Stack)
}

func TestRtail_BadLines(t *testing.T) {
	res := run(t, NewRtail, blockingStdin(t), "-n", "-1", "rancher/web")

	assert.Equal(t, 1, res.code)
	assert.Equal(t, "rtail: Bad number of lines '-1'.\n", res.stderr)
}
