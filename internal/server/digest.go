// Package server serves the latest digest over HTTP and refreshes it on demand.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/jdholdren/debrief/internal/debrief"
	dberrs "github.com/jdholdren/debrief/internal/errors"
	"github.com/jdholdren/debrief/internal/render"
)

const defaultRunsLimit = 20

type (
	// Digester produces and reads back digests.
	Digester interface {
		Run(ctx context.Context) (debrief.RankedDigest, error)
		Latest(ctx context.Context) ([]debrief.ScoredArticle, error)
		Rows(ctx context.Context, scored []debrief.ScoredArticle) []render.Row
		RenderDigest(ctx context.Context, scored []debrief.ScoredArticle) error
	}

	// Archive lists past runs.
	Archive interface {
		Runs(ctx context.Context, limit int) ([]debrief.Run, error)
		Run(ctx context.Context, id string) (debrief.Run, error)
		RunArticles(ctx context.Context, id string) ([]debrief.ScoredArticle, error)
	}

	// Server is the HTTP view of the digest.
	Server struct {
		*http.Server

		ctx      context.Context // Parent of refreshes, which outlive their request
		digester Digester
		archive  Archive // Nil without an archive
		page     render.Page

		running sync.Mutex
		runs    sync.WaitGroup

		mu      sync.Mutex
		closing bool // Set by Wait; no refresh starts after it
	}

	Config struct {
		Port       int
		CorsOrigin string
	}
)

func NewServer(ctx context.Context, config Config, d Digester, archive Archive, page render.Page) *Server {
	r := ErrRouter{Router: mux.NewRouter()}

	srvr := &Server{
		ctx:      ctx,
		digester: d,
		archive:  archive,
		page:     page,
	}

	var handler http.Handler = r
	if config.CorsOrigin != "" {
		handler = handlers.CORS(
			handlers.AllowedOrigins([]string{config.CorsOrigin}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"content-type"}),
		)(r)
	}

	srvr.Server = &http.Server{
		Addr:        fmt.Sprintf(":%d", config.Port),
		ReadTimeout: 5 * time.Second,
		// Previews for a large digest take a while
		WriteTimeout: 60 * time.Second,
		Handler:      handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(handler),
	}

	r.Use(AccessLogMiddleware)
	r.HandleFuncE("/", srvr.getDigestPage).Methods(http.MethodGet)
	r.HandleFuncE("/api/digest", srvr.getDigest).Methods(http.MethodGet)
	r.HandleFuncE("/api/runs", srvr.getRuns).Methods(http.MethodGet)
	r.HandleFuncE("/api/runs/{runID}", srvr.getRun).Methods(http.MethodGet)
	r.HandleFuncE("/api/refresh", srvr.postRefresh).Methods(http.MethodPost)
	r.PathPrefix("/style/").Handler(http.StripPrefix("/style/", http.FileServer(http.FS(render.Styles()))))

	slog.Debug("configured digest server", "port", config.Port, "archive", archive != nil)

	return srvr
}

func (s *Server) getDigestPage(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	scored, err := s.digester.Latest(ctx)
	if err != nil && !dberrs.Is(err, dberrs.KindNotFound) {
		return err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return s.page.Write(w, s.digester.Rows(ctx, scored))
}

type digestResp struct {
	Articles []debrief.ScoredArticle `json:"articles"`
}

func (s *Server) getDigest(w http.ResponseWriter, r *http.Request) error {
	scored, err := s.digester.Latest(r.Context())
	if err != nil {
		return err
	}

	return WriteJSON(w, http.StatusOK, digestResp{Articles: scored})
}

type runsResp struct {
	Runs []debrief.Run `json:"runs"`
}

func (s *Server) getRuns(w http.ResponseWriter, r *http.Request) error {
	if s.archive == nil {
		return dberrs.E(dberrs.KindNotFound, "no archive configured")
	}

	limit := defaultRunsLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			return dberrs.E(dberrs.KindConfig, "limit must be a positive integer", dberrs.Detail{Field: "limit", Error: l})
		}
		limit = n
	}

	runs, err := s.archive.Runs(r.Context(), limit)
	if err != nil {
		return err
	}

	return WriteJSON(w, http.StatusOK, runsResp{Runs: runs})
}

type runResp struct {
	debrief.Run
	Articles []debrief.ScoredArticle `json:"articles"`
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) error {
	if s.archive == nil {
		return dberrs.E(dberrs.KindNotFound, "no archive configured")
	}

	var (
		ctx = r.Context()
		id  = mux.Vars(r)["runID"]
	)

	run, err := s.archive.Run(ctx, id)
	if err != nil {
		return err
	}
	articles, err := s.archive.RunArticles(ctx, id)
	if err != nil {
		return err
	}

	return WriteJSON(w, http.StatusOK, runResp{Run: run, Articles: articles})
}

// Kicks off a run in the background; only one runs at a time.
func (s *Server) postRefresh(w http.ResponseWriter, r *http.Request) error {
	if !s.running.TryLock() {
		return dberrs.E(dberrs.KindConflict, "a run is already in progress")
	}

	s.mu.Lock()
	if s.closing || s.ctx.Err() != nil {
		s.mu.Unlock()
		s.running.Unlock()
		return errShuttingDown
	}
	s.runs.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.runs.Done()
		defer s.running.Unlock()

		s.refresh(s.ctx)
	}()

	return WriteJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

var errShuttingDown = dberrs.E(dberrs.KindConflict, "server is shutting down")

// Refresh runs the pipeline now unless a run is already going, in which case
// it returns a KindConflict error without waiting.
func (s *Server) Refresh(ctx context.Context) error {
	if !s.running.TryLock() {
		return dberrs.E(dberrs.KindConflict, "a run is already in progress")
	}
	defer s.running.Unlock()

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return errShuttingDown
	}

	return s.refresh(ctx)
}

func (s *Server) refresh(ctx context.Context) error {
	digest, err := s.digester.Run(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "refresh failed", "err", err)
		return err
	}

	if err := s.digester.RenderDigest(ctx, digest.Articles); err != nil {
		// The page is a convenience; the digest itself is stored.
		slog.WarnContext(ctx, "error rendering digest page", "err", err)
	}

	return nil
}

// Wait stops new refreshes from starting and blocks until background ones
// have finished.
func (s *Server) Wait() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.runs.Wait()
}
