package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bryan-buckman/aurora/internal/apperr"
	"github.com/bryan-buckman/aurora/internal/model"
	"github.com/bryan-buckman/aurora/internal/rss"
)

// defaultFetchTimeout bounds an on-demand feed fetch.
const defaultFetchTimeout = 2 * time.Minute

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, dbStatus, code := "healthy", "connected", http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("Health probe failed", "error", err)
		status, dbStatus, code = "unhealthy", "disconnected", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"database":       dbStatus,
		"database_type":  s.store.DatabaseType(),
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// --- Tasks ---

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Tasks())
}

func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, apperr.ErrValidation)
			return
		}
		limit = n
	}
	history, err := s.sched.TaskHistory(chi.URLParam(r, "taskID"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	res, err := s.sched.ExecuteTaskManually(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "taskID")
	if err := s.sched.ToggleTask(id, *req.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": id, "enabled": *req.Enabled})
}

// --- Icons ---

func (s *Server) handleListIcons(w http.ResponseWriter, r *http.Request) {
	icons, err := s.icons.ListIcons(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if icons == nil {
		icons = []model.IconCacheRecord{}
	}
	writeJSON(w, http.StatusOK, icons)
}

func (s *Server) handleGetIcon(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	s.serveIcon(w, r, force)
}

func (s *Server) handleRefreshIcon(w http.ResponseWriter, r *http.Request) {
	s.serveIcon(w, r, true)
}

func (s *Server) serveIcon(w http.ResponseWriter, r *http.Request, force bool) {
	res, err := s.icons.GetIcon(r.Context(), chi.URLParam(r, "domain"), force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no icon found"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCleanupIcons(w http.ResponseWriter, r *http.Request) {
	n, err := s.icons.Cleanup(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "deleted": n})
}

// --- Feeds ---

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.store.ListFeeds(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if feeds == nil {
		feeds = []model.Feed{}
	}
	writeJSON(w, http.StatusOK, feeds)
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL      string  `json:"url"`
		Title    string  `json:"title"`
		Category *string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := rss.ValidateFeedURL(req.URL); err != nil {
		s.writeError(w, err)
		return
	}
	feed, err := s.store.CreateFeed(r.Context(), req.URL, req.Title, req.Category)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, feed)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListEntries(r.Context(), chi.URLParam(r, "feedID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleFetchFeed(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	ctx, cancel := context.WithTimeout(r.Context(), s.fetchTimeout)
	defer cancel()

	res, err := s.fetcher.FetchFeed(ctx, feedID)
	if err != nil {
		// A timeout or a disconnected client is not the feed's fault.
		if ctx.Err() == nil && !errors.Is(err, apperr.ErrNotFound) {
			rctx := context.WithoutCancel(r.Context())
			if rerr := s.store.RecordFeedFailure(rctx, feedID, rss.StatusText(err), time.Now()); rerr != nil {
				s.log.Error("Failed to record feed failure", "feed_id", feedID, "error", rerr)
			}
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResetFeed(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ResetFeedErrors(r.Context(), chi.URLParam(r, "feedID")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Settings ---

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req model.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := s.store.SaveSettings(r.Context(), req); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
