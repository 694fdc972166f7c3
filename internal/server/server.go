// Package server exposes the HTTP API: task commands, repository
// registration, the live event stream (SSE and WebSocket), and repository
// file trees. Handlers validate and persist; the orchestrator and engine do
// the actual work.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/antigravity-dev/gravity/internal/bus"
	"github.com/antigravity-dev/gravity/internal/config"
	"github.com/antigravity-dev/gravity/internal/repotree"
	"github.com/antigravity-dev/gravity/internal/state"
	"github.com/antigravity-dev/gravity/pkg/models"
)

// Scheduler is the orchestrator surface the API needs: offering tasks to
// the pool and cancelling task trees.
type Scheduler interface {
	Enqueue(taskID string)
	Cancel(taskID string) (bool, error)
}

// Knowledge is the blackboard surface the API needs for delete cascades.
type Knowledge interface {
	DeleteByTasks(taskIDs []string) error
}

// TreeWatcher keeps the file tree cache fresh for registered repositories.
type TreeWatcher interface {
	Watch(repoID, root string) error
	Unwatch(repoID string)
}

// Options wires the server's collaborators.
type Options struct {
	Store     state.Store
	Bus       bus.Bus
	Scheduler Scheduler
	// Knowledge is optional; a nil blackboard skips note cleanup on delete.
	Knowledge Knowledge
	// Trees is optional; a nil cache disables the file tree endpoint.
	Trees *repotree.Cache
	// Watcher is optional; when set, repositories are watched from
	// registration to deletion.
	Watcher TreeWatcher
	Config  config.ServerConfig
}

// Server is the HTTP API server.
type Server struct {
	store     state.Store
	bus       bus.Bus
	sched     Scheduler
	knowledge Knowledge
	trees     *repotree.Cache
	watcher   TreeWatcher

	router *gin.Engine
	http   *http.Server

	now func() time.Time
}

// New builds the server and its routes.
func New(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(opts.Config.CORSOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = opts.Config.CORSOrigins
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Last-Event-ID"}
	corsCfg.AllowWebSockets = true
	router.Use(cors.New(corsCfg))

	s := &Server{
		store:     opts.Store,
		bus:       opts.Bus,
		sched:     opts.Scheduler,
		knowledge: opts.Knowledge,
		trees:     opts.Trees,
		watcher:   opts.Watcher,
		router:    router,
		now:       time.Now,
	}
	s.routes()

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Config.Host, opts.Config.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: the stream endpoints hold connections open.
	}
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)

	tasks := s.router.Group("/tasks")
	{
		tasks.POST("", s.handleCreateTask)
		tasks.GET("", s.handleListTasks)
		tasks.GET("/:id", s.handleGetTask)
		tasks.DELETE("/:id", s.handleDeleteTask)
		tasks.GET("/:id/events", s.handleListEvents)
		tasks.POST("/:id/approve", s.handleApproveTask)
		tasks.POST("/:id/reject", s.handleRejectTask)
		tasks.POST("/:id/pause", s.handlePauseTask)
		tasks.POST("/:id/resume", s.handleResumeTask)
		tasks.POST("/:id/cancel", s.handleCancelTask)
	}

	repos := s.router.Group("/repos")
	{
		repos.POST("", s.handleCreateRepo)
		repos.GET("", s.handleListRepos)
		repos.GET("/:id", s.handleGetRepo)
		repos.DELETE("/:id", s.handleDeleteRepo)
		repos.POST("/:id/scan", s.handleScanRepo)
	}

	s.router.GET("/stream/task/:id", s.handleStream)
	s.router.GET("/ws/task/:id", s.handleWS)
	s.router.GET("/files/tree", s.handleFileTree)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetClock overrides the time source.
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
}

// Start serves requests until Shutdown is called.
func (s *Server) Start() error {
	log.Printf("[server] listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": s.now().UTC()})
}

// publish appends the event to the task log and fans it out on the bus.
// Both are log-on-error: losing an event never fails a request.
func (s *Server) publish(taskID string, kind models.EventKind, payload any) {
	ev, err := s.store.AppendEvent(taskID, kind, payload, s.now())
	if err != nil {
		log.Printf("[server] task %s: append %s event: %v", taskID, kind, err)
		return
	}
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.Background(), ev); err != nil {
		log.Printf("[server] task %s: publish %s event: %v", taskID, kind, err)
	}
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}
