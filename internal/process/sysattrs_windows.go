//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// Windows creation flags
const (
	CREATE_NEW_PROCESS_GROUP = 0x00000200
	DETACHED_PROCESS         = 0x00000008
)

// configureSysProcAttr sets platform-specific attributes for Windows.
// The child always gets a new process group; a detached child additionally
// does not inherit the parent's console.
func configureSysProcAttr(cmd *exec.Cmd, detach bool) {
	flags := uint32(CREATE_NEW_PROCESS_GROUP)
	if detach {
		flags |= DETACHED_PROCESS
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: flags}
}
