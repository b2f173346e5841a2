package process

import (
	"fmt"
	"math"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Info is a best-effort description of a process found by PID.
type Info struct {
	PID       int       `json:"pid"`
	Name      string    `json:"name"`
	Cmdline   string    `json:"cmdline"`
	StartedAt time.Time `json:"started_at"`
}

// Terminator acts on processes this program did not spawn, known only by PID.
type Terminator interface {
	TerminatePID(pid int) error
	Lookup(pid int) (Info, error)
}

// OS implements Terminator with gopsutil, which maps Terminate to SIGTERM on
// Unix and TerminateProcess on Windows.
type OS struct{}

var _ Terminator = OS{}

// ValidPID reports whether pid fits the platform process id range. gopsutil
// takes an int32, so anything wider would address a different process.
func ValidPID(pid int) bool {
	return pid > 0 && pid <= math.MaxInt32
}

func (OS) TerminatePID(pid int) error {
	if !ValidPID(pid) {
		return fmt.Errorf("%w: %w: %d", ErrSignal, ErrInvalidPID, pid)
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return fmt.Errorf("%w: pid %d: %w", ErrSignal, pid, err)
	}
	if err := p.Terminate(); err != nil {
		return fmt.Errorf("%w: pid %d: %w", ErrSignal, pid, err)
	}
	return nil
}

func (OS) Lookup(pid int) (Info, error) {
	if !ValidPID(pid) {
		return Info{}, fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return Info{}, err
	}
	info := Info{PID: pid}
	// Individual fields may be unavailable without privileges; keep what we get.
	if n, err := p.Name(); err == nil {
		info.Name = n
	}
	if c, err := p.Cmdline(); err == nil {
		info.Cmdline = c
	}
	if ms, err := p.CreateTime(); err == nil && ms > 0 {
		info.StartedAt = time.UnixMilli(ms)
	}
	return info, nil
}

// Alive reports whether a process with pid exists.
func Alive(pid int) bool {
	if !ValidPID(pid) {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}
