//go:build windows

package process

import "os"

// terminate ends the child via TerminateProcess; Windows has no SIGTERM.
func terminate(p *os.Process) error {
	return p.Kill()
}
