// Package api serves the outbox-sync control endpoints used by hosts and operators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	outbox "github.com/velmie/outbox-sync"
)

const maxRequestBytes = 1 << 20

// ErrCommandIDTaken is returned when a caller-supplied command id already belongs to another
// workspace.
var ErrCommandIDTaken = errors.New("command id is used by another workspace")

// Engine is the part of outbox.Engine the API drives.
type Engine interface {
	Flush(ctx context.Context, workspaceID string) (outbox.Stats, error)
	Track(workspaceID string) error
	Untrack(workspaceID string)
	Tracked() []string
}

type server struct {
	engine  Engine
	store   outbox.Store
	builder *outbox.CommandBuilder
	logger  outbox.Logger
}

// NewServer returns the control API router.
func NewServer(engine Engine, store outbox.Store, builder *outbox.CommandBuilder, logger outbox.Logger) http.Handler {
	if logger == nil {
		logger = outbox.NopLogger{}
	}
	if builder == nil {
		builder = outbox.NewCommandBuilder(nil, nil)
	}
	s := &server{engine: engine, store: store, builder: builder, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.logRequests, middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Get("/workspaces", s.listWorkspaces)
	r.Post("/workspaces/{id}/track", s.track)
	r.Delete("/workspaces/{id}/track", s.untrack)
	r.Post("/workspaces/{id}/flush", s.flush)
	r.Post("/workspaces/{id}/commands", s.enqueue)
	r.Get("/commands/{id}", s.getCommand)

	return r
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type workspacesResp struct {
	Tracked []string `json:"tracked"`
}

func (s *server) listWorkspaces(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, workspacesResp{Tracked: s.engine.Tracked()})
}

func (s *server) track(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Track(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) untrack(w http.ResponseWriter, r *http.Request) {
	s.engine.Untrack(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// StatsResp is the JSON form of outbox.Stats.
type StatsResp struct {
	Workspace string `json:"workspace"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Retried   int    `json:"retried"`
	Conflicts int    `json:"conflicts"`
	Failed    int    `json:"failed"`
	Contended bool   `json:"contended"`
	Offline   bool   `json:"offline"`
}

func (s *server) flush(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stats, err := s.engine.Flush(r.Context(), id)
	if errors.Is(err, outbox.ErrWorkspaceRequired) {
		writeError(w, http.StatusBadRequest, err)

		return
	}
	if err != nil {
		s.logger.Error("outbox api flush failed", "workspace", id, "err", err)
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	writeJSON(w, http.StatusOK, StatsResp{
		Workspace: id,
		Processed: stats.Processed,
		Succeeded: stats.Succeeded,
		Retried:   stats.Retried,
		Conflicts: stats.Conflicts,
		Failed:    stats.Failed,
		Contended: stats.Contended,
		Offline:   stats.Offline,
	})
}

type enqueueReq struct {
	CommandID      string          `json:"commandId"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotencyKey"`
	ClientTraceID  string          `json:"clientTraceId"`
}

func (s *server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	workspaceID := chi.URLParam(r, "id")
	if req.CommandID != "" {
		existing, err := s.store.Get(r.Context(), req.CommandID)
		switch {
		case err == nil && existing.WorkspaceID != workspaceID:
			writeError(w, http.StatusConflict, ErrCommandIDTaken)

			return
		case err == nil:
			s.writeCommand(w, http.StatusOK, existing)

			return
		case !errors.Is(err, outbox.ErrCommandNotFound):
			writeError(w, http.StatusInternalServerError, err)

			return
		}
	}

	opts := []outbox.CommandOption{outbox.WithCommandID(req.CommandID)}
	if req.IdempotencyKey != "" {
		opts = append(opts, outbox.WithIdempotencyKey(req.IdempotencyKey))
	}
	if req.ClientTraceID != "" {
		opts = append(opts, outbox.WithClientTraceID(req.ClientTraceID))
	}
	cmd, err := s.builder.Build(workspaceID, req.Type, req.Payload, opts...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}
	if err := s.store.Enqueue(r.Context(), cmd); err != nil {
		s.logger.Error("outbox api enqueue failed", "workspace", cmd.WorkspaceID, "err", err)
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	s.writeCommand(w, http.StatusCreated, cmd)
}

func (s *server) getCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, outbox.ErrCommandNotFound) {
		writeError(w, http.StatusNotFound, err)

		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	s.writeCommand(w, http.StatusOK, cmd)
}

func (s *server) writeCommand(w http.ResponseWriter, code int, cmd outbox.Command) {
	data, err := outbox.SerializeCommand(cmd)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug(
			"outbox api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type errorResp struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResp{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
