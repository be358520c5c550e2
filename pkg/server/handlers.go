package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/nstogner/autoassist/pkg/runner"
	"github.com/nstogner/autoassist/pkg/store"
)

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid assistant id %q", r.PathValue("id"))
	}
	return id, nil
}

// --- Assistants ---

func (s *Server) handleListAssistants(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.LoadAll(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]store.Assistant, len(all))
	for i, a := range all {
		out[i] = redacted(a)
	}
	s.jsonResponse(w, http.StatusOK, out)
}

func (s *Server) handleGetAssistant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	a, err := store.Get(r.Context(), s.store, id)
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, redacted(a))
}

// assistantRequest holds the editable fields of an assistant.
type assistantRequest struct {
	Title             string            `json:"title"`
	SystemInstruction string            `json:"system_instruction"`
	Summary           string            `json:"summary"`
	Files             []string          `json:"files"`
	APIConfigs        []store.APIConfig `json:"api_configs"`
	EnableAPI         bool              `json:"enable_api"`
}

func (s *Server) handleCreateAssistant(w http.ResponseWriter, r *http.Request) {
	var req assistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if req.Title == "" {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("title is required"))
		return
	}
	a, err := store.Create(r.Context(), s.store, store.Assistant{
		Title:             req.Title,
		SystemInstruction: req.SystemInstruction,
		Summary:           req.Summary,
		Files:             req.Files,
		APIConfigs:        req.APIConfigs,
		EnableAPI:         req.EnableAPI,
	})
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, redacted(a))
}

func (s *Server) handleUpdateAssistant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	var req assistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	a, err := store.Update(r.Context(), s.store, id, func(a *store.Assistant) error {
		if a.IsAutoAssist() && req.Title != "" && req.Title != a.Title {
			return fmt.Errorf("the %s assistant cannot be renamed", store.AutoAssistTitle)
		}
		if req.Title != "" {
			a.Title = req.Title
		}
		a.SystemInstruction = req.SystemInstruction
		a.Summary = req.Summary
		a.Files = req.Files
		a.APIConfigs = req.APIConfigs
		a.EnableAPI = req.EnableAPI
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		s.errorResponse(w, http.StatusNotFound, err)
		return
	case errors.Is(err, store.ErrSaveFailed):
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	default:
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, redacted(a))
}

func (s *Server) handleDeleteAssistant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if id == store.AutoAssistID {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("the %s assistant cannot be deleted", store.AutoAssistTitle))
		return
	}
	if err := s.runner.DeleteAssistant(r.Context(), id); err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Conversation ---

type messageRequest struct {
	Text        string   `json:"text"`
	Attachments []string `json:"attachments"`
	APIs        []string `json:"apis"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if req.Text == "" && len(req.Attachments) == 0 {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("text is required"))
		return
	}

	err = s.runner.Send(r.Context(), runner.Message{
		AssistantID: id,
		Text:        req.Text,
		Attachments: req.Attachments,
		APIs:        req.APIs,
	})
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.respondAssistant(w, r, id)
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid message index %q", r.PathValue("index")))
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if err := s.runner.Edit(r.Context(), id, index, req.Text); err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.respondAssistant(w, r, id)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if err := s.runner.Reset(r.Context(), id); err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.respondAssistant(w, r, id)
}

func (s *Server) respondAssistant(w http.ResponseWriter, r *http.Request, id int64) {
	a, err := store.Get(r.Context(), s.store, id)
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, redacted(a))
}

// --- AutoAssist ---

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"session":    s.runner.Session(),
		"agent_mode": s.runner.AgentMode(),
	})
}

func (s *Server) handleSetAgentMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	s.runner.SetAgentMode(req.Enabled)
	s.jsonResponse(w, http.StatusOK, map[string]bool{"agent_mode": s.runner.AgentMode()})
}

// --- Models ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.lister == nil {
		s.jsonResponse(w, http.StatusOK, []string{})
		return
	}
	models, err := s.lister.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, models)
}
