package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/nodesup/internal/node"
)

// Node is the lifecycle surface of the supervisor.
type Node interface {
	Start(ctx context.Context, port int) error
	Stop(ctx context.Context) node.StopResult
	Status() node.Status
}

// Ghosts reclaims nodes left over from earlier sessions.
type Ghosts interface {
	Reclaim(ctx context.Context, ports []int) []node.GhostCandidate
}

type Options struct {
	BasePath    string
	DefaultPort int
	GhostPorts  []int
	// Dev answers kill-ghosts without probing anything.
	Dev    bool
	Logger *slog.Logger
}

// Router provides embeddable HTTP handlers for the node lifecycle.
// Endpoints:
//
//	POST {basePath}/node/start         query: port=... (optional)
//	POST {basePath}/node/stop
//	POST {basePath}/node/kill-ghosts
//	GET  {basePath}/node/status
//	GET  {basePath}/healthz
//
// Start, stop and kill-ghosts are serialized; status never blocks on them.
type Router struct {
	node     Node
	ghosts   Ghosts
	opts     Options
	basePath string
	log      *slog.Logger

	lifecycle sync.Mutex
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(n Node, g Ghosts, opts Options) *Router {
	if opts.DefaultPort == 0 {
		opts.DefaultPort = node.DefaultPort
	}
	if opts.GhostPorts == nil {
		opts.GhostPorts = node.GhostPorts()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		node:     n,
		ghosts:   g,
		opts:     opts,
		basePath: sanitizeBase(opts.BasePath),
		log:      opts.Logger.With("component", "api"),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/node/start", r.handleStart)
	group.POST("/node/stop", r.handleStop)
	group.POST("/node/kill-ghosts", r.handleKillGhosts)
	group.GET("/node/status", r.handleStatus)
	group.GET("/healthz", r.handleHealthz)
	return g
}

// NewServer builds an HTTP server for the router. The caller runs
// ListenAndServe and Shutdown.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// kill-ghosts may take a probe plus a stop per port
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type startResp struct {
	OK   bool `json:"ok"`
	Port int  `json:"port"`
	PID  int  `json:"pid,omitempty"`
}

type stopResp struct {
	OK            bool   `json:"ok"`
	Method        string `json:"method"`
	GracefulError string `json:"graceful_error,omitempty"`
	ForceError    string `json:"force_error,omitempty"`
}

type ghostResp struct {
	Port      int    `json:"port"`
	PID       int    `json:"pid,omitempty"`
	Outcome   string `json:"outcome"`
	Method    string `json:"method"`
	StopError string `json:"stop_error,omitempty"`
	KillError string `json:"kill_error,omitempty"`
}

type killGhostsResp struct {
	OK      bool        `json:"ok"`
	Skipped bool        `json:"skipped,omitempty"`
	Ghosts  []ghostResp `json:"ghosts,omitempty"`
}

func (r *Router) handleStart(c *gin.Context) {
	port, err := parsePort(c.Query("port"), r.opts.DefaultPort)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if err := r.node.Start(c.Request.Context(), port); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, node.ErrInvalidPort) {
			code = http.StatusBadRequest
		}
		r.log.Error("StartNode failed", "port", port, "error", err)
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	st := r.node.Status()
	writeJSON(c, http.StatusOK, startResp{OK: true, Port: port, PID: st.PID})
}

func (r *Router) handleStop(c *gin.Context) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	res := r.node.Stop(c.Request.Context())
	writeJSON(c, http.StatusOK, stopResp{
		OK:            true,
		Method:        string(res.Method),
		GracefulError: errString(res.GracefulErr),
		ForceError:    errString(res.ForceErr),
	})
}

func (r *Router) handleKillGhosts(c *gin.Context) {
	if r.opts.Dev {
		r.log.Info("KillGhosts skipped in dev mode")
		writeJSON(c, http.StatusOK, killGhostsResp{OK: true, Skipped: true})
		return
	}
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	found := r.ghosts.Reclaim(c.Request.Context(), r.opts.GhostPorts)
	out := killGhostsResp{OK: true, Ghosts: make([]ghostResp, 0, len(found))}
	for _, g := range found {
		out.Ghosts = append(out.Ghosts, ghostResp{
			Port:      g.Port,
			PID:       g.PID,
			Outcome:   string(g.Outcome),
			Method:    string(g.Method),
			StopError: errString(g.StopErr),
			KillError: errString(g.KillErr),
		})
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.node.Status())
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
