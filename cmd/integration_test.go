package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/l0p7/planetcast/internal/config"
	"github.com/stretchr/testify/require"
)

// serverProcess is a planetcast binary started with `go run` for black-box tests.
type serverProcess struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	exited chan struct{}
	output *syncBuffer
}

// syncBuffer lets the child process write while the test reads.
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

// startServerProcess launches the server and registers its shutdown with
// t.Cleanup. Combined output is logged when the test fails.
func startServerProcess(t *testing.T, configPath string, env map[string]string) *serverProcess {
	t.Helper()

	cacheRoot := filepath.Join(os.TempDir(), "planetcast-integration")
	goCache := filepath.Join(cacheRoot, "gocache")
	modCache := filepath.Join(cacheRoot, "gomodcache")
	for _, dir := range []string{goCache, modCache} {
		require.NoError(t, os.MkdirAll(dir, 0o750))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "go", "run", ".", "-config", configPath)
	cmd.Env = append(os.Environ(), "GOFLAGS=", "GOCACHE="+goCache, "GOMODCACHE="+modCache)
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	output := &syncBuffer{}
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		cancel()
		t.Fatalf("start server process: %v", err)
	}
	proc := &serverProcess{cmd: cmd, cancel: cancel, exited: make(chan struct{}), output: output}
	go func() {
		defer close(proc.exited)
		_ = cmd.Wait()
	}()
	t.Cleanup(func() { proc.stop(t) })
	return proc
}

func (p *serverProcess) stop(t *testing.T) {
	t.Helper()
	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-p.exited:
	case <-time.After(5 * time.Second):
		_ = p.cmd.Process.Signal(syscall.SIGKILL)
		<-p.exited
	}
	p.cancel()
	if t.Failed() {
		if out := strings.TrimSpace(p.output.String()); out != "" {
			t.Logf("server output:\n%s", out)
		}
	}
}

// waitHealthy polls /healthz until it answers below 500 or the timeout passes.
func waitHealthy(t *testing.T, client *http.Client, port int, timeout time.Duration) {
	t.Helper()
	target := integrationURL(port, "/healthz")
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(target) // #nosec G107 - local test server
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode < http.StatusInternalServerError {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server did not become healthy within %v", timeout)
}

type upstreamFakes struct {
	planets *httptest.Server
	weather *httptest.Server
	// appids records the API key seen on each weather request.
	appids chan string
}

func startUpstreamFakes(t *testing.T) *upstreamFakes {
	t.Helper()
	fakes := &upstreamFakes{appids: make(chan string, 64)}
	fakes.planets = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"name":"Tatooine","climate":"arid","terrain":"desert","population":"200000"}`)
	}))
	fakes.weather = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case fakes.appids <- r.URL.Query().Get("appid"):
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"name":"`+r.URL.Query().Get("q")+`","weather":[{"description":"clear sky"}],"main":{"temp":21,"feels_like":20,"pressure":1013,"humidity":40},"visibility":10000,"wind":{"speed":3},"clouds":{"all":0}}`)
	}))
	t.Cleanup(fakes.planets.Close)
	t.Cleanup(fakes.weather.Close)
	return fakes
}

func writeIntegrationConfig(t *testing.T, dir string, port int, fakes *upstreamFakes) string {
	t.Helper()
	cfg := map[string]any{
		"server": map[string]any{
			"listen":  map[string]any{"address": "127.0.0.1", "port": port},
			"logging": map[string]any{"format": "text", "level": "warn", "correlationHeader": "X-Request-ID"},
		},
		"storage": map[string]any{"backend": "memory"},
		"upstream": map[string]any{
			"timeoutSeconds": 5,
			"planet":         map[string]any{"baseURL": fakes.planets.URL, "count": 3},
			"weather": map[string]any{
				"baseURL":   fakes.weather.URL,
				"apiKey":    "file-key",
				"countries": []string{"Spain", "Peru"},
			},
		},
	}
	contents, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)
	path := filepath.Join(dir, "integration-config.json")
	require.NoError(t, os.WriteFile(path, contents, 0o600))
	return path
}

// freePort reserves an ephemeral port and releases it for the server to bind.
func freePort(t *testing.T) int {
	t.Helper()
	var lc net.ListenConfig
	l, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func integrationURL(port int, path string) string {
	u := url.URL{Scheme: "http", Host: net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), Path: path}
	return u.String()
}

func requireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("PLANETCAST_INTEGRATION") == "" {
		t.Skip("set PLANETCAST_INTEGRATION=1 to run integration tests")
	}
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

func TestIntegrationServerStartup(t *testing.T) {
	requireIntegration(t)

	port := freePort(t)
	fakes := startUpstreamFakes(t)
	configPath := writeIntegrationConfig(t, t.TempDir(), port, fakes)

	cfg, err := config.NewLoader("PLANETCAST", configPath).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, fakes.planets.URL, cfg.Upstream.Planet.BaseURL)

	startServerProcess(t, configPath, map[string]string{"PLANETCAST_SERVER__LOGGING__LEVEL": "debug"})

	client := &http.Client{Timeout: 5 * time.Second}
	waitHealthy(t, client, port, 45*time.Second)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, integrationURL(port, "/combined"), nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "integration-1")
	resp, err := client.Do(req) // #nosec G107 - local test server
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	require.Equal(t, "integration-1", resp.Header.Get("X-Request-ID"))
	var record map[string]any
	require.NoError(t, json.Unmarshal(body, &record))
	require.Equal(t, "Tatooine", record["planetName"])
	require.Equal(t, "HISTORY", record["gsiType"])
	require.Equal(t, "file-key", <-fakes.appids)
}
