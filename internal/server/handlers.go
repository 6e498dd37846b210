package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/homewarden/warden/internal/audit"
	"github.com/homewarden/warden/internal/history"
)

// maxChatBody caps the request body. The sanitizer truncates text anyway;
// this stops a caller from streaming megabytes at the decoder.
const maxChatBody = 64 << 10

type chatRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Body must be JSON with a \"text\" field")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Field \"text\" must not be empty")
		return
	}

	reply := s.pipeline.Handle(r.Context(), req.Text)
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"actions": s.catalog.Actions(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 0)
	turns, err := s.store.Recent(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Failed to read history")
		return
	}
	if turns == nil {
		turns = []history.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"turns": turns,
		"count": len(turns),
	})
}

func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Failed to clear history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 100)
	events, err := s.audit.Tail(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Failed to read audit log")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}

	type auditEntry struct {
		audit.Event
		Verified bool `json:"verified"`
	}
	entries := make([]auditEntry, len(events))
	for i, ev := range events {
		entries[i] = auditEntry{Event: ev, Verified: s.audit.VerifyEvent(ev)}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": entries,
		"count":  len(entries),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
