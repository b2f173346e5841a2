package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
	"vawter.tech/stopper"

	"github.com/loykin/nodesup"
	"github.com/loykin/nodesup/internal/logger"
	"github.com/loykin/nodesup/internal/process"
)

const shutdownGrace = 5 * time.Second

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the nodesup daemon",
		Long: `Start the supervisor and its HTTP API.

On startup it reclaims ghost nodes on node.ghost_ports (skipped when dev is
set) and, with node.autostart, launches the node. SIGINT or SIGTERM stops the
node and then the API.

Examples:
  nodesup serve                     # defaults plus NODESUP_* environment
  nodesup serve nodesup.toml        # with a config file
  nodesup serve --daemonize         # run in background (pidfile from [server].pidfile)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), path, serveFlags)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file (overrides [server].pidfile)")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file (overrides [server].logfile)")
	return cmd
}

func runServe(ctx context.Context, configPath string, flags *ServeFlags) error {
	cfg, err := nodesup.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	pidfile := cfg.Server.PIDFile
	if flags.PidFile != "" {
		pidfile = flags.PidFile
	}
	if flags.Daemonize {
		logfile := cfg.Server.LogFile
		if flags.LogFile != "" {
			logfile = flags.LogFile
		}
		return daemonize(pidfile, logfile)
	}

	log, logCloser, err := logger.New(cfg.Log.Logger(), nil)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(log)

	if pidfile != "" {
		if pid, running := process.RunningFromPIDFile(pidfile); running && pid != os.Getpid() {
			return fmt.Errorf("nodesup already running with pid %d (%s)", pid, pidfile)
		}
		if err := writePidFile(pidfile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(pidfile) }()
	}

	rt, err := nodesup.NewFromConfig(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	log.Info("nodesup starting", "version", version, "run_id", rt.RunID, "dev", cfg.Dev, "listen", cfg.Server.Listen)

	if ctx == nil {
		ctx = context.Background()
	}
	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	switch {
	case cfg.Dev:
		log.Info("Dev mode: ghost reclaim skipped")
	case cfg.Node.ReclaimOnStart:
		rt.Reclaimer.Reclaim(sigCtx, cfg.Node.GhostPorts)
	}

	if cfg.Node.Autostart {
		// a failed autostart leaves the API up so the node can be started later
		if err := rt.Supervisor.Start(sigCtx, cfg.Node.Port); err != nil {
			log.Error("Autostart failed", "error", err)
		}
	}

	servers := []*http.Server{rt.NewHTTPServer(cfg, log)}
	if cfg.Metrics.Enabled {
		if err := nodesup.RegisterMetricsDefault(); err != nil {
			log.Warn("Failed to register metrics", "error", err)
		}
		servers = append(servers, nodesup.NewMetricsServer(cfg.Metrics.Listen))
		log.Info("Serving metrics", "listen", cfg.Metrics.Listen)
	}

	sctx := stopper.WithContext(context.Background())
	serveErr := make(chan error, len(servers))
	for _, srv := range servers {
		sctx.Go(func(*stopper.Context) error {
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			serveErr <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			return err
		})
		sctx.Go(func(s *stopper.Context) error {
			<-s.Stopping()
			shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shCtx)
		})
	}

	var runErr error
	select {
	case <-sigCtx.Done():
		log.Info("Shutting down")
	case runErr = <-serveErr:
		log.Error("Server failed", "error", runErr)
	}

	res := rt.Supervisor.Stop(context.Background())
	log.Info("Node stopped", "method", res.Method)

	sctx.Stop(shutdownGrace)
	if err := sctx.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// writePidFile atomically writes pid to path.
func writePidFile(path string, pid int) error {
	return renameio.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// removePidFile removes the PID file
func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	return os.Remove(pidFile)
}
