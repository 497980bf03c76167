package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/backyonatan-alt/sitewatch/internal/imagery"
	"github.com/backyonatan-alt/sitewatch/internal/model"
	"github.com/backyonatan-alt/sitewatch/internal/store"
)

const (
	defaultHistoryDays     = 180
	defaultHistoryInterval = 30
	maxHistorySamples      = 48
	maxHistorySpanDays     = 3660
)

// runResponse is the manual trigger envelope.
type runResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Result  model.RunResult `json:"result"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	// The run outlives a disconnected client; concurrent triggers join it.
	res, err := s.monitor.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		slog.Error("manual monitoring run failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, runResponse{
			Success: false,
			Message: res.Summary() + "; run aborted: " + err.Error(),
			Result:  res,
		})
		return
	}

	slog.Info("manual monitoring run complete", "summary", res.Summary())
	writeJSON(w, http.StatusOK, runResponse{
		Success: true,
		Message: res.Summary(),
		Result:  res,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	data := s.cache.Bytes()
	if data == nil {
		writeError(w, http.StatusNotFound, "no monitoring run has completed yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snaps, err := s.monitor.Snapshots(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()

	end := model.DateOf(time.Now())
	if v := q.Get("end"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		end = d
	}
	start := end.AddDays(-defaultHistoryDays)
	if v := q.Get("start"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		start = d
	}
	interval := defaultHistoryInterval
	if v := q.Get("interval"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "interval must be a whole number of days")
			return
		}
		interval = n
	}
	if interval > 0 && !start.After(end.Time) {
		days := (end.Unix() - start.Unix()) / 86400
		if days > maxHistorySpanDays {
			writeError(w, http.StatusBadRequest, "requested range is too wide")
			return
		}
		if days/int64(interval)+1 > maxHistorySamples {
			writeError(w, http.StatusBadRequest, "requested range needs too many samples; widen the interval")
			return
		}
	}

	snaps, err := s.monitor.History(r.Context(), id, start, end, interval)
	if err != nil {
		s.writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
	}
	if updatedAt := s.cache.UpdatedAt(); !updatedAt.IsZero() {
		resp["last_run"] = updatedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeLookupError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "project not found")
	case errors.Is(err, imagery.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrInvalidCoordinates):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("project request failed", "project", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
