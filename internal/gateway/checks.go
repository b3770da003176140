package gateway

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"
)

// CheckPrivileges verifies the agent can run privileged jobs: either it
// is root, or passwordless sudo works. Hardware probes need one or the
// other, and failing at startup beats failing mid-session.
func CheckPrivileges(ctx context.Context) error {
	if os.Geteuid() == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "sudo", "-n", "true").Run(); err != nil {
		return fmt.Errorf("agent needs root or passwordless sudo: %w", err)
	}
	return nil
}

// CheckPortAvailable verifies nothing is already listening on the agent
// address, which usually means another agent instance is running.
func CheckPortAvailable(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("address %s is already in use, is another agent running?", addr)
	}
	return nil
}
