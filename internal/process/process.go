package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

var (
	// ErrSignal is returned when the OS refuses or fails a termination request.
	ErrSignal = errors.New("signal failed")
	// ErrInvalidPID is returned for process identifiers outside 1..MaxInt32.
	ErrInvalidPID = errors.New("invalid pid")
)

// Options controls how a child process is launched.
type Options struct {
	// Detach places the child in its own session/process group and leaves its
	// standard streams on the null device, so the parent can exit independently.
	Detach  bool
	WorkDir string
	Env     []string
}

// Exit describes how a child process ended.
type Exit struct {
	Code int       `json:"code"`
	Err  string    `json:"error,omitempty"`
	At   time.Time `json:"at"`
}

// Handle is an opaque reference to a spawned child.
type Handle interface {
	PID() int
	// Terminate sends the platform's termination request to the child.
	Terminate() error
	// Done is closed once the child has exited and been reaped.
	Done() <-chan struct{}
	// Exit reports the exit status; valid after Done is closed.
	Exit() Exit
}

// Spawner launches child processes.
type Spawner interface {
	Spawn(path string, args []string, opts Options) (Handle, error)
}

// Exec spawns processes with os/exec.
type Exec struct{}

var _ Spawner = Exec{}

// Spawn starts path with args and returns as soon as the OS accepted the launch.
// A background goroutine reaps the child and closes the handle's Done channel.
func (Exec) Spawn(path string, args []string, opts Options) (Handle, error) {
	// #nosec G204
	cmd := exec.Command(path, args...)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	configureSysProcAttr(cmd, opts.Detach)
	// nil Stdin/Stdout/Stderr are connected to os.DevNull by os/exec.
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	c := &child{cmd: cmd, done: make(chan struct{})}
	go c.wait()
	return c, nil
}

type child struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu   sync.Mutex
	exit Exit
}

func (c *child) PID() int { return c.cmd.Process.Pid }

func (c *child) Done() <-chan struct{} { return c.done }

func (c *child) Exit() Exit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exit
}

func (c *child) Terminate() error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: pid %d: %w", ErrSignal, c.PID(), os.ErrProcessDone)
	default:
	}
	if err := terminate(c.cmd.Process); err != nil {
		return fmt.Errorf("%w: pid %d: %w", ErrSignal, c.PID(), err)
	}
	return nil
}

func (c *child) wait() {
	err := c.cmd.Wait()
	ex := Exit{Code: -1, At: time.Now()}
	if st := c.cmd.ProcessState; st != nil {
		ex.Code = st.ExitCode()
	}
	if err != nil {
		ex.Err = err.Error()
	}
	c.mu.Lock()
	c.exit = ex
	c.mu.Unlock()
	close(c.done)
}
