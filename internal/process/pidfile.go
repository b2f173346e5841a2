package process

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ReadPIDFile reads a PID file. Only the first line is used, so files that
// carry extra metadata after the PID still parse.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pidLine, _, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, fmt.Errorf("pidfile %s: %w", path, err)
	}
	if !ValidPID(pid) {
		return 0, fmt.Errorf("pidfile %s: %w: %d", path, ErrInvalidPID, pid)
	}
	return pid, nil
}

// RunningFromPIDFile returns the PID recorded in path if that process is
// alive. Missing or unreadable files report not running.
func RunningFromPIDFile(path string) (int, bool) {
	pid, err := ReadPIDFile(path)
	if err != nil {
		return 0, false
	}
	return pid, Alive(pid)
}
