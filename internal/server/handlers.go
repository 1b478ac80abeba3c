package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danshapiro/socratic/internal/agent"
	"github.com/danshapiro/socratic/internal/turnlog"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.registry.List()),
	})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	var persist agent.Persister
	if s.config.Store != nil {
		persist = s.config.Store
	}
	sess, err := agent.NewSession(s.config.Credentials, s.config.Factory, persist, s.config.AgentConfig)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	broadcaster := NewBroadcaster()
	ctx, cancel := context.WithCancel(s.baseCtx)

	ss := &SessionState{
		ID:          sess.ID(),
		Session:     sess,
		Broadcaster: broadcaster,
		Cancel:      cancel,
		StartedAt:   time.Now().UTC(),
	}
	if err := s.registry.Register(ss.ID, ss); err != nil {
		cancel()
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	// Pump session events into the broadcaster until the session closes.
	go func() {
		defer broadcaster.Close()
		for ev := range sess.Events() {
			m := map[string]any{
				"kind":       string(ev.Kind),
				"timestamp":  ev.Timestamp.Format(time.RFC3339Nano),
				"session_id": ev.SessionID,
			}
			for k, v := range ev.Data {
				m[k] = v
			}
			broadcaster.Send(m)
		}
	}()

	// Drive the agent loop in the background; the HTTP client follows along
	// over SSE.
	go func() {
		if err := sess.Start(ctx, req.Topic); err != nil {
			ss.SetErr(err)
			s.logger.Printf("session %s: %v", ss.ID, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, ss.Status())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var out []SessionStatus
	live := map[string]bool{}
	for _, ss := range s.registry.List() {
		live[ss.ID] = true
		out = append(out, ss.Status())
	}
	if s.config.Store != nil {
		snaps, err := s.config.Store.LoadAllSessions()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, snap := range snaps {
			if live[snap.ID] {
				continue
			}
			updated := snap.UpdatedAt
			out = append(out, SessionStatus{
				SessionID: snap.ID,
				Topic:     snap.Topic,
				State:     "stored",
				TurnCount: len(snap.Turns),
				UpdatedAt: &updated,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ss.Status())
}

func (s *Server) handleGetTurns(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(w, r)
	if !ok {
		return
	}
	turns := ss.Session.Turns()
	out := make([]TurnView, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnView(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(w, r)
	if !ok {
		return
	}
	WriteSSE(w, r, ss.Broadcaster)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if ss.Session.State() != agent.StatePausedUserInput {
		writeError(w, http.StatusConflict, fmt.Sprintf("session is %s, not %s", ss.Session.State(), agent.StatePausedUserInput))
		return
	}
	go func() {
		if err := ss.Session.Send(s.baseCtx, req.Text, nil); err != nil {
			s.logger.Printf("session %s send: %v", ss.ID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(w, r)
	if !ok {
		return
	}
	ss.Session.Pause()
	writeJSON(w, http.StatusOK, ss.Status())
}

func (s *Server) handleFinishSession(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(w, r)
	if !ok {
		return
	}
	ss.Session.Finish()
	writeJSON(w, http.StatusOK, ss.Status())
}

func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(w, r)
	if !ok {
		return
	}
	quiz, err := ss.Session.GenerateQuiz(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (s *Server) handleGenerateConceptMap(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(w, r)
	if !ok {
		return
	}
	cm, err := ss.Session.GenerateConceptMap(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cm)
}

// quiescent reports whether turn-level actions (resend, regenerate,
// rephrase) are legal: no exchange may be in flight.
func quiescent(st agent.State) bool {
	return st == agent.StatePausedUserInput || st == agent.StateFinished
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(w, r)
	if !ok {
		return
	}
	if st := ss.Session.State(); !quiescent(st) {
		writeError(w, http.StatusConflict, fmt.Sprintf("session is %s", st))
		return
	}
	tid := r.PathValue("tid")
	go func() {
		if err := ss.Session.Resend(s.baseCtx, tid); err != nil {
			s.logger.Printf("session %s resend: %v", ss.ID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(w, r)
	if !ok {
		return
	}
	if st := ss.Session.State(); !quiescent(st) {
		writeError(w, http.StatusConflict, fmt.Sprintf("session is %s", st))
		return
	}
	tid := r.PathValue("tid")
	go func() {
		if err := ss.Session.Regenerate(s.baseCtx, tid); err != nil {
			s.logger.Printf("session %s regenerate: %v", ss.ID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
}

func (s *Server) handleRephrase(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.session(w, r)
	if !ok {
		return
	}
	if st := ss.Session.State(); !quiescent(st) {
		writeError(w, http.StatusConflict, fmt.Sprintf("session is %s", st))
		return
	}
	tid := r.PathValue("tid")
	var req RephraseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	style := agent.RephraseStyle(req.Style)
	switch style {
	case agent.RephraseSimplify, agent.RephraseAnalogy, agent.RephraseExpand:
	default:
		writeError(w, http.StatusBadRequest, "style must be simplify, analogy or expand")
		return
	}
	go func() {
		if err := ss.Session.Rephrase(s.baseCtx, tid, style); err != nil {
			s.logger.Printf("session %s rephrase: %v", ss.ID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if ss, ok := s.registry.Get(id); ok {
		ss.Cancel()
		ss.Session.Close()
		s.registry.Remove(id)
	}
	if s.config.Store != nil {
		if err := s.config.Store.DeleteSession(id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*SessionState, bool) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return nil, false
	}
	ss, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
		return nil, false
	}
	return ss, true
}

func turnView(t turnlog.Turn) TurnView {
	v := TurnView{
		ID:          t.ID,
		Role:        string(t.Role),
		Content:     t.Content,
		IsStreaming: t.IsStreaming,
		IsRephrased: t.IsRephrased,
		CreatedAt:   t.CreatedAt,
	}
	if t.Feedback != nil {
		v.Rating = string(t.Feedback.Rating)
	}
	if t.FunctionCall != nil {
		v.Function = t.FunctionCall.Name
	}
	for _, c := range t.Citations {
		v.Citations = append(v.Citations, CitationView{Title: c.Title, URI: c.URI})
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
