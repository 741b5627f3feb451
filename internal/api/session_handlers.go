package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/cutplan/internal/segment"
	"github.com/heimdex/cutplan/internal/selection"
	"github.com/heimdex/cutplan/internal/session"
	"github.com/heimdex/cutplan/internal/timeline"
)

// writeServiceError maps session service errors onto the HTTP error codes.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, selection.ErrUnknownCluster):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, session.ErrNoMedia):
		WriteError(w, http.StatusNotFound, err.Error(), "NO_MEDIA")
	case errors.Is(err, timeline.ErrDataIntegrity):
		WriteError(w, http.StatusConflict, err.Error(), "INTEGRITY_ERROR")
	case session.IsClientError(err):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	default:
		if logger != nil {
			logger.Error("request failed", "error", err)
		}
		WriteError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
	}
}

func createSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		sess, err := cfg.Sessions.Create(r.Context(), session.CreateInput{
			Name:      req.Name,
			MediaPath: req.MediaPath,
			Duration:  req.Duration,
			Segments:  segment.Normalize(req.Segments, cfg.Logger),
		})
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusCreated, SessionToResponse(sess))
	}
}

func listSessionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := cfg.Sessions.List(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list sessions", "INTERNAL_ERROR")
			return
		}

		resp := SessionsResponse{Sessions: make([]SessionResponse, len(sessions))}
		for i, s := range sessions {
			resp.Sessions[i] = SessionToResponse(s)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		sess, err := cfg.Sessions.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if sess == nil {
			WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, SessionToResponse(sess))
	}
}

func deleteSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func listSegmentsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		segs, err := cfg.Sessions.Segments(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusOK, SegmentsResponse{Segments: segs})
	}
}

func replaceSegmentsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReplaceSegmentsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		segs := segment.Normalize(req.Segments, cfg.Logger)
		sess, err := cfg.Sessions.ReplaceSegments(r.Context(), chi.URLParam(r, "id"), segs, req.Duration)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusOK, SessionToResponse(sess))
	}
}

func listClustersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clusters, err := cfg.Sessions.Clusters(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusOK, ClustersResponse{Clusters: clusters})
	}
}

func selectionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var action session.SelectionAction
		if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if action.Action == "" {
			WriteError(w, http.StatusBadRequest, "action is required", "BAD_REQUEST")
			return
		}

		sel, err := cfg.Sessions.ApplySelection(r.Context(),
			chi.URLParam(r, "id"), chi.URLParam(r, "clusterId"), action)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusOK, sel)
	}
}

func getFilterHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := cfg.Sessions.Filter(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusOK, f)
	}
}

// setFilterHandler applies a partial filter: fields and categories absent
// from the body keep their current value.
func setFilterHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		f, err := cfg.Sessions.Filter(r.Context(), id)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "BAD_REQUEST")
			return
		}

		updated, err := cfg.Sessions.SetFilter(r.Context(), id, f)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusOK, updated)
	}
}

func planHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plan, err := cfg.Sessions.Plan(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusOK, plan)
	}
}

func mapHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("t")
		if raw == "" {
			WriteError(w, http.StatusBadRequest, "t is required", "BAD_REQUEST")
			return
		}
		t, err := segment.ParseTimecode(raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		out, err := cfg.Sessions.MapTime(r.Context(), chi.URLParam(r, "id"), t)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusOK, MapResponse{Source: t, Output: out})
	}
}
