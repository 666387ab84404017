package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"conti/internal/core"
	"conti/internal/services"
)

type friendJSON struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func toFriendJSON(f core.Friend) friendJSON {
	return friendJSON{ID: f.ID, Name: f.Name, CreatedAt: f.CreatedAt}
}

func (s *Server) handleListFriends(w http.ResponseWriter, r *http.Request) {
	friends, err := s.friends.ListFriends(r.Context(), currentUserID(r.Context()))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]friendJSON, 0, len(friends))
	for _, f := range friends {
		out = append(out, toFriendJSON(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddFriend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	f, err := s.friends.AddFriend(r.Context(), currentUserID(r.Context()), sanitizeInput(req.Name))
	if err != nil {
		if errors.Is(err, services.ErrEmptyName) {
			writeError(w, http.StatusUnprocessableEntity, "name must not be empty")
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFriendJSON(f))
}

func (s *Server) handleRemoveFriend(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r.Context())
	friendID := mux.Vars(r)["id"]

	if err := s.friends.RemoveFriend(r.Context(), userID, friendID); err != nil {
		writeStoreError(w, err)
		return
	}

	// Removal patches expenses and groups, so every cached settlement for
	// this account is suspect.
	s.invalidateSettlements(userID, "")
	groups, err := s.store.ListGroups(r.Context(), userID)
	if err == nil {
		for _, g := range groups {
			s.settleCache.Delete("group:" + g.ID)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
