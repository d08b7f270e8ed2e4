//go:build !windows

package app

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// shutdownSignals are the OS signals that trigger graceful shutdown.
var shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// stopTimeout bounds how long --stop waits for the daemon to save its
// agents and exit.
const stopTimeout = 5 * time.Second

// stopDaemon sends SIGTERM to the daemon named in the PID file and waits
// for it to exit.
func stopDaemon() error {
	pid, err := readPID()
	if err != nil {
		return fmt.Errorf("no daemon running (could not read PID file: %v)", err)
	}
	if !processExists(pid) {
		_ = os.Remove(pidFilePath())
		return fmt.Errorf("no daemon running (PID %d is not active, cleaned up stale PID file)", pid)
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon (PID %d): %w", pid, err)
	}
	deadline := time.Now().Add(stopTimeout)
	for processExists(pid) {
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon (PID %d) did not exit within %s", pid, stopTimeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Printf("Stopped agentpulse daemon (PID %d)\n", pid)
	return nil
}

// processExists reports whether pid is running; signal 0 checks without
// delivering anything.
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
