package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"conti/internal/core"
)

type groupJSON struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MemberIDs []string  `json:"memberIds"`
	CreatedAt time.Time `json:"createdAt"`
}

func toGroupJSON(g core.Group) groupJSON {
	members := g.MemberIDs
	if members == nil {
		members = []string{}
	}
	return groupJSON{ID: g.ID, Name: g.Name, MemberIDs: members, CreatedAt: g.CreatedAt}
}

type groupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds"`
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context(), currentUserID(r.Context()))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]groupJSON, 0, len(groups))
	for _, g := range groups {
		out = append(out, toGroupJSON(g))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	g := core.Group{
		ID:        uuid.NewString(),
		UserID:    currentUserID(r.Context()),
		Name:      sanitizeInput(req.Name),
		MemberIDs: req.MemberIDs,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.store.CreateGroup(r.Context(), g); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupJSON(g))
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.store.GetGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if g.UserID != currentUserID(r.Context()) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, toGroupJSON(g))
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existing, err := s.store.GetGroup(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if existing.UserID != currentUserID(r.Context()) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	existing.Name = sanitizeInput(req.Name)
	existing.MemberIDs = req.MemberIDs
	if err := existing.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.store.UpdateGroup(r.Context(), existing); err != nil {
		writeStoreError(w, err)
		return
	}

	s.settleCache.Delete("group:" + id)
	writeJSON(w, http.StatusOK, toGroupJSON(existing))
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existing, err := s.store.GetGroup(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if existing.UserID != currentUserID(r.Context()) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := s.store.DeleteGroup(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}

	s.settleCache.Delete("group:" + id)
	w.WriteHeader(http.StatusNoContent)
}
