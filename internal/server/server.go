// Package server exposes the engine's read-only state over HTTP: health,
// migration status, verification findings, and the loaded revision graph.
// Nothing here mutates the backing store — mutating operations stay on the
// manager API and the command line.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/datakeel/migrec/internal/logger"
	"github.com/datakeel/migrec/internal/manager"
	"github.com/datakeel/migrec/internal/revision"
	"github.com/datakeel/migrec/internal/schemadiff"
)

// Server serves the inspection API.
type Server struct {
	mgr    *manager.Manager
	source revision.Source
	log    *logger.Logger
	http   *http.Server
}

// New creates a Server around the given manager. The source is queried
// directly for the revision listing endpoint.
func New(addr string, mgr *manager.Manager, source revision.Source, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{mgr: mgr, source: source, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/verify", s.handleVerify)
		r.Get("/revisions", s.handleRevisions)
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.log.With().Str("addr", s.http.Addr).Logger().Info("inspection API listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the underlying HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.mgr.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := statusResponse{
		Applied:  report.State.AppliedIDs(),
		Pending:  report.State.PendingIDs(),
		Orphaned: report.State.Orphaned,
	}
	for _, warn := range report.LoadWarnings {
		resp.LoadWarnings = append(resp.LoadWarnings, warn.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := s.mgr.Verify(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := verifyResponse{
		Clean:             report.Clean(),
		IntegrityValid:    report.Integrity.Valid,
		IntegrityErrors:   report.Integrity.Errors,
		IntegrityWarnings: report.Integrity.Warnings,
		Orphaned:          report.Orphaned,
		Schema: schemaDiffResponse{
			Match:          report.Schema.Match(),
			MissingTables:  report.Schema.MissingTables,
			ExtraTables:    report.Schema.ExtraTables,
			MissingColumns: refStrings(report.Schema.MissingColumns),
			ExtraColumns:   refStrings(report.Schema.ExtraColumns),
		},
	}
	for _, mm := range report.Schema.TypeMismatches {
		resp.Schema.TypeMismatches = append(resp.Schema.TypeMismatches, typeMismatchResponse{
			Table:    mm.Table,
			Column:   mm.Column,
			Expected: mm.Expected,
			Actual:   mm.Actual,
		})
	}
	for _, warn := range report.LoadWarnings {
		resp.LoadWarnings = append(resp.LoadWarnings, warn.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRevisions(w http.ResponseWriter, r *http.Request) {
	graph, warns, err := revision.Load(r.Context(), s.source)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := revisionsResponse{Count: graph.Len()}
	for _, id := range graph.IDs() {
		rec, _ := graph.Get(id)
		resp.Revisions = append(resp.Revisions, revisionResponse{
			ID:          rec.ID,
			Parent:      rec.ParentID,
			Description: rec.Description,
			Source:      rec.SourceRef,
		})
	}
	for _, warn := range warns {
		resp.LoadWarnings = append(resp.LoadWarnings, warn.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- responses ---

type statusResponse struct {
	Applied      []string `json:"applied"`
	Pending      []string `json:"pending"`
	Orphaned     []string `json:"orphaned"`
	LoadWarnings []string `json:"load_warnings,omitempty"`
}

type verifyResponse struct {
	Clean             bool               `json:"clean"`
	IntegrityValid    bool               `json:"integrity_valid"`
	IntegrityErrors   []string           `json:"integrity_errors,omitempty"`
	IntegrityWarnings []string           `json:"integrity_warnings,omitempty"`
	Schema            schemaDiffResponse `json:"schema"`
	Orphaned          []string           `json:"orphaned,omitempty"`
	LoadWarnings      []string           `json:"load_warnings,omitempty"`
}

type schemaDiffResponse struct {
	Match          bool                   `json:"match"`
	MissingTables  []string               `json:"missing_tables,omitempty"`
	ExtraTables    []string               `json:"extra_tables,omitempty"`
	MissingColumns []string               `json:"missing_columns,omitempty"`
	ExtraColumns   []string               `json:"extra_columns,omitempty"`
	TypeMismatches []typeMismatchResponse `json:"type_mismatches,omitempty"`
}

type typeMismatchResponse struct {
	Table    string `json:"table"`
	Column   string `json:"column"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

type revisionsResponse struct {
	Count        int                `json:"count"`
	Revisions    []revisionResponse `json:"revisions"`
	LoadWarnings []string           `json:"load_warnings,omitempty"`
}

type revisionResponse struct {
	ID          string `json:"id"`
	Parent      string `json:"parent,omitempty"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
}

// --- plumbing ---

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.ErrorWith("request failed", err, map[string]interface{}{
		"path": r.URL.Path,
	})
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func refStrings(refs []schemadiff.ColumnRef) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = ref.Table + "." + ref.Column
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.HTTPEvent().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
