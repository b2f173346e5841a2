package node

import (
	"runtime"
	"strconv"
	"time"
)

const (
	// DefaultPort is the control-plane port the node is launched with.
	DefaultPort = 44050
	// LegacyPort was the default control-plane port of older releases.
	LegacyPort = 4050

	DefaultStopTimeout  = 3 * time.Second
	DefaultProbeTimeout = 100 * time.Millisecond
)

// GhostPorts returns the ports scanned for leftover nodes at startup.
func GhostPorts() []int { return []int{LegacyPort, DefaultPort} }

// BinaryName is the node executable name for the running platform.
func BinaryName() string {
	if runtime.GOOS == "windows" {
		return "myst.exe"
	}
	return "myst"
}

// LaunchArgs returns the fixed node arguments. Order matters: "daemon" is a
// subcommand and must come last.
func LaunchArgs(port int) []string {
	return []string{
		"--ui.enable=false",
		"--usermode",
		"--consumer",
		"--tequilapi.port=" + strconv.Itoa(port),
		"--discovery.type=api",
		"daemon",
	}
}

func validPort(port int) bool { return port > 0 && port <= 65535 }
