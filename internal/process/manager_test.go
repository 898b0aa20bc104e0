package process

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{Name: "hostapd", Binary: "/usr/sbin/hostapd"})

	if m.config.RestartDelay != time.Second {
		t.Errorf("RestartDelay = %v, want 1s", m.config.RestartDelay)
	}
	if m.config.MaxRestartDelay != 30*time.Second {
		t.Errorf("MaxRestartDelay = %v, want 30s", m.config.MaxRestartDelay)
	}
	if m.config.GracefulTimeout != 5*time.Second {
		t.Errorf("GracefulTimeout = %v, want 5s", m.config.GracefulTimeout)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("wpa_supplicant", "/usr/sbin/wpa_supplicant", []string{"-i", "wlan0"})

	if cfg.Name != "wpa_supplicant" || cfg.Binary != "/usr/sbin/wpa_supplicant" {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
	if !cfg.RestartOnFailure {
		t.Error("RestartOnFailure = false, want true")
	}
	if cfg.MaxRestartAttempts != 10 {
		t.Errorf("MaxRestartAttempts = %d, want 10", cfg.MaxRestartAttempts)
	}
}

func TestManager_InitialState(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})

	if m.Status() != StatusStopped {
		t.Errorf("initial Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.IsRunning() || m.PID() != 0 || m.RestartCount() != 0 || m.LastError() != nil {
		t.Error("new manager reports activity")
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() on never-started manager error = %v", err)
	}
}

func TestManager_StartAndStop(t *testing.T) {
	m := NewManager(Config{
		Name:            "sleeper",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !m.IsRunning() || m.PID() == 0 {
		t.Fatal("process not running after Start()")
	}
	if err := m.Start(ctx); err == nil {
		t.Error("second Start() error = nil, want already running")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() after Stop() = %q, want %q", m.Status(), StatusStopped)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{Name: "bad", Binary: "/nonexistent/binary"})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() with invalid binary error = nil")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() after failed Start() error = %v", err)
	}
}

func TestManager_OnLine(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	stopped := make(chan error, 1)

	m := NewManager(Config{
		Name:   "echo",
		Binary: "/bin/sh",
		Args:   []string{"-c", "echo 'CTRL-EVENT-CONNECTED - Connection to aa:bb'; echo oops >&2"},
		OnLine: func(stream, line string) {
			mu.Lock()
			lines = append(lines, stream+":"+line)
			mu.Unlock()
		},
		OnStop: func(err error) { stopped <- err },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	mu.Lock()
	defer mu.Unlock()
	want := map[string]bool{
		"stdout:CTRL-EVENT-CONNECTED - Connection to aa:bb": false,
		"stderr:oops": false,
	}
	for _, l := range lines {
		if _, ok := want[l]; ok {
			want[l] = true
		}
	}
	for l, seen := range want {
		if !seen {
			t.Errorf("line %q not forwarded (got %v)", l, lines)
		}
	}
}

func TestManager_FatalExitNotRestarted(t *testing.T) {
	stopped := make(chan error, 4)
	m := NewManager(Config{
		Name:             "hostapd",
		Binary:           "/bin/sh",
		Args:             []string{"-c", "echo 'wlan0: interface initialization failed'; exit 1"},
		RestartOnFailure: true,
		RestartDelay:     10 * time.Millisecond,
		FatalPatterns:    []string{"initialization failed"},
		OnStop:           func(err error) { stopped <- err },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	var err error
	select {
	case err = <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	if IsRecoverable(err) {
		t.Errorf("exit error %v is recoverable, want fatal", err)
	}

	select {
	case <-stopped:
		t.Error("fatal exit was restarted")
	case <-time.After(200 * time.Millisecond):
	}
	if m.RestartCount() != 0 {
		t.Errorf("RestartCount() = %d, want 0", m.RestartCount())
	}
}

func TestManager_RestartsUntilMax(t *testing.T) {
	stopped := make(chan error, 8)
	m := NewManager(Config{
		Name:               "flaky",
		Binary:             "/bin/sh",
		Args:               []string{"-c", "exit 3"},
		RestartOnFailure:   true,
		RestartDelay:       5 * time.Millisecond,
		MaxRestartDelay:    10 * time.Millisecond,
		MaxRestartAttempts: 2,
		OnStop:             func(err error) { stopped <- err },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := range 3 {
		select {
		case err := <-stopped:
			var exitErr *ExitError
			if !errors.As(err, &exitErr) {
				t.Fatalf("exit %d: error = %v, want *ExitError", i, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("exit %d not observed", i)
		}
	}

	select {
	case <-stopped:
		t.Error("restarted beyond MaxRestartAttempts")
	case <-time.After(200 * time.Millisecond):
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
}

func TestCalculateBackoffDelay(t *testing.T) {
	m := NewManager(Config{
		Name:            "test",
		Binary:          "/bin/true",
		RestartDelay:    time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{9, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := m.calculateBackoffDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateBackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsRecoverable(t *testing.T) {
	if !IsRecoverable(nil) {
		t.Error("IsRecoverable(nil) = false")
	}
	if !IsRecoverable(context.DeadlineExceeded) {
		t.Error("plain error should be recoverable")
	}
	if IsRecoverable(&ExitError{Name: "x", Err: errors.New("exit 1"), fatal: true}) {
		t.Error("fatal ExitError reported recoverable")
	}
	if !IsRecoverable(&ExitError{Name: "x", Err: errors.New("exit 1")}) {
		t.Error("non-fatal ExitError reported unrecoverable")
	}
}
