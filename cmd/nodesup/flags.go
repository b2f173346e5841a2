package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type StartFlags struct {
	Port int
}

type ProbeFlags struct {
	Port    int
	Timeout time.Duration
}

type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

type ConfigInitFlags struct {
	Force bool
}
