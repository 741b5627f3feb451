package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/cutplan/internal/playback"
	"github.com/heimdex/cutplan/internal/session"
)

// tickHandler runs one skip-controller tick for the browser player. The
// response carries seek_to only when the player must jump.
func tickHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var report playback.TickReport
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		seekTo, err := cfg.Sessions.Tick(r.Context(), chi.URLParam(r, "id"), report)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		WriteJSON(w, http.StatusOK, TickResponse{SeekTo: seekTo})
	}
}

func mediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		path, err := cfg.Sessions.MediaPath(r.Context(), id)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrNoMedia) {
				writeServiceError(w, cfg.Logger, err)
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		if err := cfg.Media.ServeMedia(w, r, path); err != nil {
			cfg.Logger.Error("playback error", "error", err, "session_id", id)
		}
	}
}
