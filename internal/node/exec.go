package node

import (
	"fmt"
	"os/exec"

	"rosterchat/internal/metrics"
)

// Runner starts an external command without waiting for it.
type Runner interface {
	Run(path string) error
}

// ProcessRunner runs commands as detached child processes. Output is
// discarded and the exit status is never reported back to the peer.
type ProcessRunner struct{}

func (ProcessRunner) Run(path string) error {
	cmd := exec.Command(path)
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", path, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func (n *Node) runExec(peerID, path string) {
	if path == "" {
		n.rep.logf(LevelError, "exec from %s: empty command", peerID)
		metrics.Execs.WithLabelValues("failed").Inc()
		return
	}
	n.rep.logf(LevelNotice, "exec %s (requested by %s)", path, peerID)
	if err := n.runner.Run(path); err != nil {
		n.rep.logf(LevelError, "exec %s: %v", path, err)
		metrics.Execs.WithLabelValues("failed").Inc()
		return
	}
	metrics.Execs.WithLabelValues("started").Inc()
}
