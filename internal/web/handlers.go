package web

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/loadengine"
	"github.com/JonMunkholm/loadengine/internal/batch"
	"github.com/JonMunkholm/loadengine/internal/core"
	"github.com/JonMunkholm/loadengine/internal/logging"
)

const defaultRunsLimit = 20

// entityInfo describes one registered entity.
type entityInfo struct {
	Name        string            `json:"name"`
	Order       int               `json:"order"`
	PrimaryKey  string            `json:"primary_key"`
	Required    []string          `json:"required"`
	Columns     []core.Column     `json:"columns"`
	ForeignKeys []core.ForeignKey `json:"foreign_keys,omitempty"`
	Rows        int64             `json:"rows"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": loadengine.Version().Core(),
	})
}

// handleListEntities returns the registry in dependency order with row counts.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.RowCounts(r.Context(), s.registry)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	entities := s.registry.All()
	out := make([]entityInfo, len(entities))
	for i, e := range entities {
		out[i] = entityInfo{
			Name:        e.Name,
			Order:       i,
			PrimaryKey:  e.PrimaryKey,
			Required:    e.Required,
			Columns:     e.Columns,
			ForeignKeys: e.ForeignKeys,
			Rows:        counts[e.Name],
		}
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handleRun loads the configured batch directory.
// Query: validate_fk=true enables the foreign key audit.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	validateFK := s.cfg.Load.ValidateFK
	if v := r.URL.Query().Get("validate_fk"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, r, fmt.Errorf("invalid validate_fk value %q", v), http.StatusBadRequest)
			return
		}
		validateFK = b
	}

	if err := s.limiter.Acquire(r.Context()); err != nil {
		respondError(w, r, err, 0)
		return
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Load.RunTimeout)
	defer cancel()

	logger := logging.FromContext(ctx)
	src := batch.NewDirSource(s.fs, s.cfg.Load.BatchDir, logger)

	summary := s.engine.RunAll(ctx, src, core.RunOptions{ValidateFK: validateFK})
	s.saveRun(ctx, summary)

	writeJSON(w, r, http.StatusOK, summary)
}

// handleLoad loads one entity from the request body. The body is either raw
// CSV or a multipart form with a "file" field.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "entity")
	if _, err := s.registry.Lookup(name); err != nil {
		respondError(w, r, err, 0)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Load.MaxUploadSize)
	body, closeBody, err := csvBody(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	defer closeBody()

	raw, _, err := batch.ReadCSV(body)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	if err := s.limiter.Acquire(r.Context()); err != nil {
		respondError(w, r, err, 0)
		return
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Load.RunTimeout)
	defer cancel()

	started := time.Now()
	result, err := s.engine.LoadOne(ctx, name, raw)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	s.saveRun(ctx, core.RunSummary{
		RunID:      uuid.NewString(),
		StartedAt:  started,
		FinishedAt: time.Now(),
		Results:    []core.LoadResult{result},
	})

	status := http.StatusOK
	if !result.OK() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, r, status, result)
}

// handleListRuns returns recent runs, newest first. Query: limit (default 20).
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, r, fmt.Errorf("invalid limit %q", v), http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.store.Runs(r.Context(), limit)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []core.RunSummary{}
	}
	writeJSON(w, r, http.StatusOK, runs)
}

// saveRun records a run in history. History failures are logged, not returned.
func (s *Server) saveRun(ctx context.Context, summary core.RunSummary) {
	if err := s.store.SaveRun(context.WithoutCancel(ctx), summary); err != nil {
		logging.FromContext(ctx).Error("save run history failed", "run_id", summary.RunID, "error", err)
	}
}

// csvBody returns the CSV payload of a load request.
func csvBody(r *http.Request) (io.Reader, func(), error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		return r.Body, func() {}, nil
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, nil, fmt.Errorf("invalid csv upload: %w", err)
	}
	return file, func() { file.Close() }, nil
}
