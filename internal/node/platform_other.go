//go:build !unix

package node

import (
	"os/exec"
	"syscall"
)

func reuseAddr(_, _ string, _ syscall.RawConn) error { return nil }

func detach(*exec.Cmd) {}
