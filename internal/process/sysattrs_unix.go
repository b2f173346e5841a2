//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr sets platform-specific attributes for Unix-like systems.
// A detached child gets a new session (setsid) so it has no controlling
// terminal and survives the parent. Otherwise it only gets its own process group.
func configureSysProcAttr(cmd *exec.Cmd, detach bool) {
	attrs := &syscall.SysProcAttr{}
	if detach {
		attrs.Setsid = true
	} else {
		attrs.Setpgid = true
	}
	cmd.SysProcAttr = attrs
}
