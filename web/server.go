// Package web serves the HTTP API used to upload photos, poll reconstruction jobs and download
// the resulting point clouds.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.viam.com/utils"
	"goji.io"
	"goji.io/pat"

	"github.com/photocloud/photocloud/jobmanager"
	"github.com/photocloud/photocloud/logging"
)

// JobQueue is the part of the job manager the API needs.
type JobQueue interface {
	Submit(ctx context.Context, inputs []string) (string, error)
	Status(ctx context.Context, id string) (jobmanager.Job, error)
	List(ctx context.Context) ([]jobmanager.Job, error)
	ResultsDir() string
}

// Server is the HTTP API.
type Server struct {
	cfg     *Config
	jobs    JobQueue
	logger  logging.Logger
	handler http.Handler
}

// NewServer returns a server submitting uploads to jobs. The upload directory is created if needed.
func NewServer(cfg *Config, jobs JobQueue, logger logging.Logger) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate("web"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o750); err != nil {
		return nil, errors.Wrap(err, "creating upload directory")
	}
	s := &Server{cfg: cfg, jobs: jobs, logger: logger.Sublogger("web")}

	mux := goji.NewMux()
	mux.Use(s.logRequests)
	mux.HandleFunc(pat.Post("/api/upload"), s.handleUpload)
	mux.HandleFunc(pat.Get("/api/status/:id"), s.handleStatus)
	mux.HandleFunc(pat.Get("/api/jobs"), s.handleJobs)
	mux.HandleFunc(pat.Get("/api/download/:name"), s.handleDownload)
	mux.HandleFunc(pat.Get("/api/health"), s.handleHealth)

	corsHandler := cors.AllowAll()
	if len(cfg.AllowedOrigins) > 0 {
		corsHandler = cors.New(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
		})
	}
	s.handler = corsHandler.Handler(mux)
	return s, nil
}

// ServeHTTP dispatches to the API routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debugw("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// Serve accepts connections on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Addr:              listener.Addr().String(),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Handler:           s,
	}
	done := make(chan struct{})
	defer close(done)
	utils.PanicCapturingGo(func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorw("error shutting down", "error", err)
		}
	})

	s.logger.Infow("serving", "url", fmt.Sprintf("http://%s", listener.Addr().String()))
	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Status(r.Context(), pat.Param(r, "id"))
	if err != nil {
		if errors.Is(err, jobmanager.ErrJobNotFound) {
			s.notFound(w, "job not found")
			return
		}
		s.logger.Errorw("cannot read job status", "error", err)
		s.internalError(w, "cannot read job status")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		s.logger.Errorw("cannot list jobs", "error", err)
		s.internalError(w, "cannot list jobs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := pat.Param(r, "name")
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		s.notFound(w, "file not found")
		return
	}
	//nolint:gosec
	f, err := os.Open(filepath.Join(s.jobs.ResultsDir(), name))
	if err != nil {
		s.notFound(w, "file not found")
		return
	}
	defer utils.UncheckedErrorFunc(f.Close)
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		s.notFound(w, "file not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
