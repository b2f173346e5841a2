package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// daemonize re-executes nodesup in the background without --daemonize and
// exits the parent once the child is running.
func daemonize(pidFile string, logFile string) error {
	if !isDaemonSupported() {
		return errors.New("daemon mode is not supported on this platform")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// #nosec G204
	cmd := exec.Command(executable, daemonArgs(os.Args[1:], pidFile, logFile)...)
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil

	if logFile != "" {
		// #nosec G304
		logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer func() { _ = logF.Close() }()
		cmd.Stdout = logF
		cmd.Stderr = logF
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	if pidFile != "" {
		if err := writePidFile(pidFile, cmd.Process.Pid); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
	}

	fmt.Printf("Daemon started with PID %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil
}

// daemonArgs strips --daemonize and re-adds the resolved pidfile/logfile.
func daemonArgs(args []string, pidFile, logFile string) []string {
	var out []string
	skipNext := false
	for _, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}
		switch arg {
		case "--daemonize":
			continue
		case "--pidfile", "--logfile":
			skipNext = true
			continue
		}
		if strings.HasPrefix(arg, "--daemonize=") || strings.HasPrefix(arg, "--pidfile=") || strings.HasPrefix(arg, "--logfile=") {
			continue
		}
		out = append(out, arg)
	}
	if pidFile != "" {
		out = append(out, "--pidfile", pidFile)
	}
	if logFile != "" {
		out = append(out, "--logfile", logFile)
	}
	return out
}
