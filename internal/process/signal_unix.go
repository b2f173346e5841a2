//go:build !windows

package process

import (
	"os"
	"syscall"
)

// terminate asks the child to exit with SIGTERM.
func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
