package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const pidFileName = "provisiond.pid"

var errDaemonNotRunning = errors.New("provisiond is not running")

// writePIDFile records this process in dir so the reset command can find it.
func writePIDFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating runtime dir: %w", err)
	}
	path := filepath.Join(dir, pidFileName)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("writing pid file: %w", err)
	}
	return path, nil
}

func readPIDFile(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, pidFileName))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file content %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// processAlive tests the pid with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// signalDaemon sends sig to the daemon recorded in dir.
func signalDaemon(dir string, sig syscall.Signal) (int, error) {
	pid, err := readPIDFile(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, errDaemonNotRunning
	}
	if err != nil {
		return 0, err
	}
	if !processAlive(pid) {
		return 0, errDaemonNotRunning
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, err
	}
	if err := proc.Signal(sig); err != nil {
		return 0, fmt.Errorf("signalling pid %d: %w", pid, err)
	}
	return pid, nil
}
