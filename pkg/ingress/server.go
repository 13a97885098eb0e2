package ingress

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/crucible/pkg/broker"
	"github.com/cuemby/crucible/pkg/engine"
	"github.com/cuemby/crucible/pkg/log"
	"github.com/cuemby/crucible/pkg/metrics"
	"github.com/cuemby/crucible/pkg/storage"
	"github.com/cuemby/crucible/pkg/tasklog"
)

// Server is the HTTP front door for launching and managing tasks.
// Adapted from pkg/api/health.go's bare-ServeMux server lifecycle.
type Server struct {
	engine  *engine.Engine
	store   storage.Store
	taskLog *tasklog.Store
	mux     *http.ServeMux
	http    *http.Server
}

// New builds a Server with every route from spec.md §6 registered.
func New(eng *engine.Engine, store storage.Store, taskLog *tasklog.Store) *Server {
	s := &Server{engine: eng, store: store, taskLog: taskLog, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("POST /execute/", s.timed("execute", s.handleExecute))
	s.mux.Handle("POST /execute/empty-instance", s.timed("execute_empty", s.handleEmptyInstance))
	s.mux.Handle("GET /execute/{package}/default/{stage}", s.timed("execute_query", s.handleExecuteByQuery))
	s.mux.Handle("GET /execute/{package}/{version}/{stage}", s.timed("execute_query", s.handleExecuteByQuery))
	s.mux.Handle("GET /task/status/{id}", s.timed("task_status", s.handleTaskStatus))
	s.mux.Handle("POST /task/{id}/cancel", s.timed("task_cancel", s.handleCancel))
	s.mux.Handle("DELETE /task/{id}", s.timed("task_delete", s.handleDelete))
	s.mux.Handle("GET /tasks/{stage}", s.timed("tasks_list", s.handleListByStage))
	s.mux.Handle("GET /task/{id}/logs", s.timed("task_logs", s.handleTaskLogs))
}

// timed wraps a handler with IngressRequestDuration instrumentation,
// labelled by route and final status code.
func (s *Server) timed(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		timer.ObserveDurationVec(metrics.IngressRequestDuration, route, fmt.Sprintf("%d", rec.status))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Handler exposes the route table for embedding under another mux
// (e.g. pkg/proxy's relative-404 repair wrapper).
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves the execution API on addr until ctx is cancelled, then
// shuts down gracefully. Mirrors pkg/ingress/proxy.go's Start/Shutdown
// pattern from the teacher, minus the TLS/ACME machinery this API has
// no use for.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-running sync /execute waits
		IdleTimeout:  120 * time.Second,
	}

	l := log.WithComponent("ingress")
	errCh := make(chan error, 1)
	go func() {
		l.Info().Str("addr", addr).Msg("execution API listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ListenBroker drives executions arriving on a message-queue listener,
// launching each the same way an async POST /execute would.
func (s *Server) ListenBroker(ctx context.Context, l broker.Listener, queue string) error {
	return l.Listen(ctx, queue, func(req broker.ExecuteRequest) {
		if _, err := s.launch(ctx, req.PackageName, req.Version, req.Stage, req.Arguments, false); err != nil {
			log.WithComponent("ingress").Warn().Err(err).Str("package", req.PackageName).Msg("broker-triggered execution failed to launch")
		}
	})
}
