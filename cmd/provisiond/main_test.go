package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/provisiond/internal/credstore"
	"github.com/nerrad567/provisiond/internal/infrastructure/config"
)

// testEnv holds a config file and the directories it points at.
type testEnv struct {
	configPath string
	runtimeDir string
	apPort     int
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		configPath: filepath.Join(dir, "config.yaml"),
		runtimeDir: filepath.Join(dir, "run"),
		apPort:     freePort(t),
	}

	content := fmt.Sprintf(`
device:
  id: device_test

database:
  path: %q
  wal_mode: true
  busy_timeout: 5

radio:
  driver: simulated
  runtime_dir: %q

ap:
  port: %d
  mdns:
    enabled: false

backend:
  url: "http://127.0.0.1:1"

mqtt:
  broker:
    host: "127.0.0.1"

logging:
  level: error
  format: text
  output: discard
`, filepath.Join(dir, "credentials.db"), env.runtimeDir, env.apPort)

	if err := os.WriteFile(env.configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return env
}

// seedStore writes a provisioning record into the env's database.
func (e testEnv) seedStore(t *testing.T, bearer string) {
	t.Helper()
	ctx := context.Background()
	cfg, err := config.Load(e.configPath)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer db.Close()

	if err := store.SaveProvisioning(ctx, credstore.ProvisioningRecord{
		SSID:              "home",
		Password:          "secret",
		DeviceID:          "device_test",
		ProvisioningToken: "prov-token",
		BearerToken:       bearer,
	}); err != nil {
		t.Fatalf("SaveProvisioning: %v", err)
	}
}

func (e testEnv) provisioned(t *testing.T) bool {
	t.Helper()
	ctx := context.Background()
	cfg, err := config.Load(e.configPath)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer db.Close()

	ok, err := store.IsProvisioned(ctx)
	if err != nil {
		t.Fatalf("IsProvisioned: %v", err)
	}
	return ok
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"provisiond"}, args...))
	return out.String(), err
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_SimulatedRadio boots the daemon on the simulated radio, waits for
// the provisioning endpoints and shuts it down.
func TestRun_SimulatedRadio(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, env.configPath) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/status", env.apPort)
	deadline := time.Now().Add(5 * time.Second)
	var body string
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			body = string(b)
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(body, `"provisioning"`) {
		t.Fatalf("status body = %q, want provisioning", body)
	}

	if _, err := readPIDFile(env.runtimeDir); err != nil {
		t.Errorf("pid file not written: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if _, err := os.Stat(filepath.Join(env.runtimeDir, pidFileName)); !os.IsNotExist(err) {
		t.Errorf("pid file should be removed on shutdown, stat err = %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	env := newTestEnv(t)

	out, err := runApp(t, "--config", env.configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{
		"device:       device_test",
		"provisioned:  no",
		"certificates: absent",
		"bearer token: none",
		"daemon:       not running",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	env.seedStore(t, "opaque-token")
	out, err = runApp(t, "--config", env.configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, `provisioned:  yes (ssid "home", device_id "device_test")`) {
		t.Errorf("output missing provisioned line:\n%s", out)
	}
	if !strings.Contains(out, "bearer token: present (opaque)") {
		t.Errorf("output missing bearer line:\n%s", out)
	}
	if strings.Contains(out, "secret") || strings.Contains(out, "prov-token") {
		t.Errorf("status must not print secrets:\n%s", out)
	}
}

func TestDescribeBearer(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	sign := func(exp time.Time) string {
		claims := jwt.MapClaims{"sub": "user-1"}
		if !exp.IsZero() {
			claims["exp"] = exp.Unix()
		}
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
		if err != nil {
			t.Fatalf("signing: %v", err)
		}
		return s
	}

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"none", "", "none"},
		{"opaque", "not-a-jwt", "present (opaque)"},
		{"no expiry", sign(time.Time{}), "present (no expiry)"},
		{"valid", sign(now.Add(time.Hour)), "present (expires 2026-06-01T13:00:00Z)"},
		{"expired", sign(now.Add(-time.Hour)), "present (expired 2026-06-01T11:00:00Z)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := credstore.New(credstore.NewMemoryKV())
			if err := store.SaveProvisioning(ctx, credstore.ProvisioningRecord{
				SSID: "home", Password: "secret", DeviceID: "d", ProvisioningToken: "t",
				BearerToken: tt.token,
			}); err != nil {
				t.Fatalf("SaveProvisioning: %v", err)
			}
			if got := describeBearer(ctx, store, now); got != tt.want {
				t.Errorf("describeBearer() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResetCommand_NotRunning(t *testing.T) {
	env := newTestEnv(t)

	_, err := runApp(t, "--config", env.configPath, "reset")
	if !errors.Is(err, errDaemonNotRunning) {
		t.Fatalf("reset error = %v, want errDaemonNotRunning", err)
	}
}

func TestResetCommand_ClearWithoutDaemon(t *testing.T) {
	env := newTestEnv(t)
	env.seedStore(t, "")

	out, err := runApp(t, "--config", env.configPath, "reset", "--clear")
	if err != nil {
		t.Fatalf("reset --clear: %v", err)
	}
	if !strings.Contains(out, "provisioning record cleared") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "daemon not running") {
		t.Errorf("output = %q", out)
	}
	if env.provisioned(t) {
		t.Error("record should be cleared")
	}
}

func TestResetCommand_SignalsDaemon(t *testing.T) {
	env := newTestEnv(t)
	if _, err := writePIDFile(env.runtimeDir); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	out, err := runApp(t, "--config", env.configPath, "reset")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !strings.Contains(out, "pid "+strconv.Itoa(os.Getpid())) {
		t.Errorf("output = %q", out)
	}

	select {
	case <-hup:
	case <-time.After(2 * time.Second):
		t.Fatal("SIGHUP not delivered")
	}
}

func TestPIDFile(t *testing.T) {
	dir := t.TempDir()

	if _, err := readPIDFile(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("readPIDFile() on empty dir error = %v", err)
	}

	path, err := writePIDFile(dir)
	if err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(dir)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	if !processAlive(pid) {
		t.Error("own process should be alive")
	}

	if err := os.WriteFile(path, []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := readPIDFile(dir); err == nil {
		t.Error("readPIDFile() should reject garbage")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "provisiond dev") {
		t.Errorf("output = %q", out)
	}
}
