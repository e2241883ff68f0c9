package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/jonathan/levelup/internal/progress"
	"github.com/jonathan/levelup/internal/server/middleware"
	"github.com/jonathan/levelup/internal/types"
)

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStages(w http.ResponseWriter, _ *http.Request) {
	c := s.engine.Catalog()
	s.jsonResponse(w, http.StatusOK, types.StagesResponse{
		Stages:        c.Stages,
		Ranks:         c.Ranks,
		MaxExperience: c.MaxExperience(),
	})
}

// handleState returns the caller's progress, creating it on first visit.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.GetIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	state, err := s.engine.GetOrCreate(r.Context(), userRef(id))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.stateResponse(id.UserID, state))
}

// handleProfile sets the caller's display name.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.GetIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req types.ProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		s.writeError(w, r, validationError(err))
		return
	}

	ref := userRef(id)
	ref.Profile.DisplayName = req.DisplayName
	state, err := s.engine.GetOrCreate(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.stateResponse(id.UserID, state))
}

// handleAdminUsers lists every user, highest experience first.
func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.AllUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	users := make([]types.UserSummary, 0, len(records))
	for _, rec := range records {
		users = append(users, types.NewUserSummary(rec))
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Experience != users[j].Experience {
			return users[i].Experience > users[j].Experience
		}
		return users[i].ID < users[j].ID
	})

	s.jsonResponse(w, http.StatusOK, types.UsersResponse{Users: users, Count: len(users)})
}

func (s *Server) stateResponse(userID string, state *progress.UserState) types.StateResponse {
	return types.StateResponse{
		UserID:  userID,
		State:   state,
		Summary: progress.Summarize(s.engine.Catalog(), state),
	}
}

func userRef(id *types.Identity) progress.UserRef {
	return progress.UserRef{
		ID: id.UserID,
		Profile: progress.Profile{
			DisplayName: id.DisplayName,
			Email:       id.Email,
			AvatarURL:   id.AvatarURL,
		},
	}
}

func equalFoldTrim(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
