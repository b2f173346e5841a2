//go:build !windows

package process

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, h Handle, timeout time.Duration) Exit {
	t.Helper()
	select {
	case <-h.Done():
		return h.Exit()
	case <-time.After(timeout):
		t.Fatalf("process %d did not exit within %v", h.PID(), timeout)
	}
	return Exit{}
}

func TestExecSpawn_ReportsExitCode(t *testing.T) {
	h, err := Exec{}.Spawn("/bin/sh", []string{"-c", "exit 3"}, Options{Detach: true})
	require.NoError(t, err)
	require.Greater(t, h.PID(), 0)

	ex := waitDone(t, h, 5*time.Second)
	assert.Equal(t, 3, ex.Code)
	assert.NotEmpty(t, ex.Err)
	assert.False(t, ex.At.IsZero())
}

func TestExecSpawn_CleanExit(t *testing.T) {
	h, err := Exec{}.Spawn("/bin/sh", []string{"-c", "true"}, Options{})
	require.NoError(t, err)
	ex := waitDone(t, h, 5*time.Second)
	assert.Equal(t, 0, ex.Code)
	assert.Empty(t, ex.Err)
}

func TestExecSpawn_MissingBinary(t *testing.T) {
	_, err := Exec{}.Spawn(filepath.Join(t.TempDir(), "no-such-binary"), nil, Options{Detach: true})
	require.Error(t, err)
}

func TestExecSpawn_WorkDir(t *testing.T) {
	dir := t.TempDir()
	h, err := Exec{}.Spawn("/bin/sh", []string{"-c", "touch marker"}, Options{WorkDir: dir, Detach: true})
	require.NoError(t, err)
	waitDone(t, h, 5*time.Second)
	_, err = os.Stat(filepath.Join(dir, "marker"))
	assert.NoError(t, err)
}

func TestTerminate_SendsSIGTERM(t *testing.T) {
	h, err := Exec{}.Spawn("/bin/sh", []string{"-c", "sleep 30"}, Options{Detach: true})
	require.NoError(t, err)

	require.NoError(t, h.Terminate())
	ex := waitDone(t, h, 5*time.Second)
	// Killed by signal: os.ProcessState.ExitCode reports -1.
	assert.Equal(t, -1, ex.Code)
}

func TestTerminate_AfterExit(t *testing.T) {
	h, err := Exec{}.Spawn("/bin/sh", []string{"-c", "true"}, Options{})
	require.NoError(t, err)
	waitDone(t, h, 5*time.Second)

	err = h.Terminate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSignal))
	assert.True(t, errors.Is(err, os.ErrProcessDone))
}

func TestOSTerminatePID(t *testing.T) {
	h, err := Exec{}.Spawn("/bin/sh", []string{"-c", "sleep 30"}, Options{Detach: true})
	require.NoError(t, err)
	require.True(t, Alive(h.PID()))

	info, err := OS{}.Lookup(h.PID())
	require.NoError(t, err)
	assert.Equal(t, h.PID(), info.PID)

	require.NoError(t, OS{}.TerminatePID(h.PID()))
	waitDone(t, h, 5*time.Second)
}

func TestOSTerminatePID_Invalid(t *testing.T) {
	for _, pid := range []int{0, -1} {
		err := OS{}.TerminatePID(pid)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSignal)
		assert.ErrorIs(t, err, ErrInvalidPID)
	}
	assert.False(t, Alive(0))
}

func TestOSTerminatePID_RejectsPIDWiderThanInt32(t *testing.T) {
	h, err := Exec{}.Spawn("/bin/sh", []string{"-c", "sleep 30"}, Options{Detach: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Terminate() })

	// truncated to int32 this would be h.PID()
	wide := (1 << 32) + h.PID()

	_, err = OS{}.Lookup(wide)
	assert.ErrorIs(t, err, ErrInvalidPID)

	err = OS{}.TerminatePID(wide)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPID)
	assert.False(t, Alive(wide))

	select {
	case <-h.Done():
		t.Fatalf("process %d exited after TerminatePID(%d)", h.PID(), wide)
	case <-time.After(200 * time.Millisecond):
	}
	assert.True(t, Alive(h.PID()))
}
