package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/scrypster/memorytap/internal/audio"
	"github.com/scrypster/memorytap/internal/engine"
	"github.com/scrypster/memorytap/internal/query"
	"github.com/scrypster/memorytap/internal/storage"
	"github.com/scrypster/memorytap/pkg/types"
)

// ListResponse is the body of GET /api/memories.
type ListResponse struct {
	Memories []*types.Memory `json:"memories"`
	Total    int             `json:"total"`
}

// ToggleResponse is the body of the favorite and complete endpoints.
type ToggleResponse struct {
	ID    string `json:"id"`
	Value bool   `json:"value"`
}

// FocusResponse is the briefing with its priorities resolved to memories.
type FocusResponse struct {
	types.Briefing
	Priorities []*types.Memory `json:"priorities"`
	Reminders  []*types.Memory `json:"reminders"`
}

// AnalyticsResponse combines collection stats with the habit report.
type AnalyticsResponse struct {
	Stats  query.Stats       `json:"stats"`
	Habits types.HabitReport `json:"habits"`
}

// CaptureStatus describes the most recent ingestion attempt.
type CaptureStatus struct {
	State      types.IngestionState `json:"state"`
	Reason     types.FailureReason  `json:"reason,omitempty"`
	Error      string               `json:"error,omitempty"`
	MemoryID   string               `json:"memoryId,omitempty"`
	StartedAt  *time.Time           `json:"startedAt,omitempty"`
	FinishedAt *time.Time           `json:"finishedAt,omitempty"`
}

// session opens the caller's session, writing the error reply on failure.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*engine.Session, bool) {
	p, ok := principalFrom(r.Context())
	if !ok {
		respondJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: CodeUnauthorized})
		return nil, false
	}
	sess, err := s.sessions.Open(r.Context(), p.OwnerID)
	if err != nil {
		s.respondError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (*engine.Session, []*types.Memory, bool) {
	sess, ok := s.session(w, r)
	if !ok {
		return nil, nil, false
	}
	snap, err := sess.Snapshot()
	if err != nil {
		s.respondError(w, r, err)
		return nil, nil, false
	}
	return sess, snap, true
}

// listMemories handles GET /api/memories?category=&q=.
func (s *Server) listMemories(w http.ResponseWriter, r *http.Request) {
	category, err := types.ParseCategory(r.URL.Query().Get("category"), true)
	if err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	_, snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	out := query.FilterAndSearch(snap, category, r.URL.Query().Get("q"))
	if r.URL.Query().Get("favorites") == "true" {
		out = query.Favorites(out)
	}
	respondJSON(w, http.StatusOK, ListResponse{Memories: out, Total: len(out)})
}

// getMemory handles GET /api/memories/{id}.
func (s *Server) getMemory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	m, found := sess.Cache().Get(r.PathValue("id"))
	if !found {
		s.respondError(w, r, storage.ErrNotFound)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// createMemory handles POST /api/memories. The recording is either the
// "audio" part of a multipart form or the raw body with an audio/* content
// type. An optional "duration" (seconds) is informational.
func (s *Server) createMemory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	artifact, err := readArtifact(r, s.cfg.MaxUploadBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, err)
			return
		}
		respondBadRequest(w, err.Error())
		return
	}

	m, err := sess.Pipeline().Submit(r.Context(), artifact)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

func readArtifact(r *http.Request, maxBytes int64) (types.AudioArtifact, error) {
	var artifact types.AudioArtifact

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return artifact, err
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			return artifact, errors.New(`multipart field "audio" is required`)
		}
		defer func() { _ = file.Close() }()

		artifact.Data, err = io.ReadAll(file)
		if err != nil {
			return artifact, err
		}
		artifact.Filename = header.Filename
		artifact.ContentType = header.Header.Get("Content-Type")
		if artifact.ContentType == "" || artifact.ContentType == "application/octet-stream" {
			artifact.ContentType = audio.ContentTypeFor(header.Filename)
		}
		artifact.Duration = parseDuration(r.FormValue("duration"))

	case strings.HasPrefix(mediaType, "audio/") || mediaType == "video/webm":
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return artifact, err
		}
		artifact.Data = data
		artifact.ContentType = r.Header.Get("Content-Type")
		artifact.Duration = parseDuration(r.URL.Query().Get("duration"))

	default:
		return artifact, errors.New("expected multipart/form-data or an audio/* body")
	}
	return artifact, nil
}

func parseDuration(s string) time.Duration {
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// deleteMemory handles DELETE /api/memories/{id}.
func (s *Server) deleteMemory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Router().Delete(r.Context(), r.PathValue("id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// toggleFavorite handles POST /api/memories/{id}/favorite.
func (s *Server) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	v, err := sess.Router().ToggleFavorite(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ToggleResponse{ID: id, Value: v})
}

// toggleCompletion handles POST /api/memories/{id}/complete.
func (s *Server) toggleCompletion(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	v, err := sess.Router().ToggleCompletion(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ToggleResponse{ID: id, Value: v})
}

// captureStatus handles GET /api/capture.
func (s *Server) captureStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	a := sess.Pipeline().LastAttempt()
	status := CaptureStatus{State: a.State, Reason: a.Reason, MemoryID: a.MemoryID, Error: errString(a.Err)}
	if !a.StartedAt.IsZero() {
		status.StartedAt = &a.StartedAt
	}
	if !a.FinishedAt.IsZero() {
		status.FinishedAt = &a.FinishedAt
	}
	respondJSON(w, http.StatusOK, status)
}

// focus handles GET /api/focus.
func (s *Server) focus(w http.ResponseWriter, r *http.Request) {
	_, snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	b := s.insight.Briefing(r.Context(), snap)
	respondJSON(w, http.StatusOK, FocusResponse{
		Briefing:   b,
		Priorities: query.ResolvePriorities(snap, b.PriorityIDs),
		Reminders:  query.Reminders(snap),
	})
}

// analytics handles GET /api/analytics.
func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	_, snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, AnalyticsResponse{
		Stats:  query.Summarize(snap),
		Habits: s.insight.HabitAnalysis(r.Context(), snap),
	})
}

// logout handles POST /api/logout: the session ends, its cache is cleared
// and the owner's sockets are closed.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		respondJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: CodeUnauthorized})
		return
	}
	s.sessions.End(p.OwnerID)
	s.hub.CloseOwner(p.OwnerID)
	w.WriteHeader(http.StatusNoContent)
}

// websocket handles GET /ws.
func (s *Server) websocket(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		respondJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: CodeUnauthorized})
		return
	}
	s.hub.Serve(w, r, p.OwnerID)
}

// listBackups handles GET /api/backups.
func (s *Server) listBackups(w http.ResponseWriter, r *http.Request) {
	list, err := s.backup.List()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	health, err := s.backup.Health()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"backups": list, "health": health})
}

// createBackup handles POST /api/backups.
func (s *Server) createBackup(w http.ResponseWriter, r *http.Request) {
	result, err := s.backup.BackupNow(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}
