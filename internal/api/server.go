package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"covhook/scan-runner/internal/model"
	"covhook/scan-runner/internal/worker"
)

// Scheduler accepts scans and reports on them.
type Scheduler interface {
	Submit(ctx context.Context, req model.ScanRequest) (worker.Ticket, error)
	Get(id string) (model.ScanResult, error)
	Wait(ctx context.Context, id string) (model.ScanResult, error)
}

type Resolver interface {
	Resolve(repoURL string) (model.ServiceConfig, error)
}

type Options struct {
	WebhookSecret string
	// Sync makes requests block until the scan finishes unless they ask
	// otherwise with ?sync=false.
	Sync        bool
	SyncTimeout time.Duration
}

type Server struct {
	scheduler Scheduler
	resolver  Resolver
	opts      Options
	log       logrus.FieldLogger
}

func NewServer(scheduler Scheduler, resolver Resolver, opts Options, log logrus.FieldLogger) *Server {
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 10 * time.Minute
	}
	return &Server{scheduler: scheduler, resolver: resolver, opts: opts, log: log}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/scans", func(r chi.Router) {
		r.Post("/", s.RunScanHandler)
	})
	r.Post("/webhook/gitlab", s.GitlabHookHandler)
	r.Get("/tasks/{id}", s.TaskHandler)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		s.log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
		}).Info("request handled")
	})
}

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}
