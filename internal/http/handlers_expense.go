package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"conti/internal/core"
)

type contributionJSON struct {
	FriendID string     `json:"friendId"`
	Amount   core.Money `json:"amount"`
}

type expenseJSON struct {
	ID            string             `json:"id"`
	GroupID       string             `json:"groupId,omitempty"`
	PaidBy        string             `json:"paidBy"`
	Description   string             `json:"description"`
	Amount        core.Money         `json:"amount"`
	Split         core.SplitType     `json:"split"`
	Contributions []contributionJSON `json:"contributions"`
	CreatedAt     time.Time          `json:"createdAt"`
}

func toExpenseJSON(e core.Expense) expenseJSON {
	contribs := make([]contributionJSON, 0, len(e.Contributions))
	for _, c := range e.Contributions {
		contribs = append(contribs, contributionJSON{FriendID: c.FriendID, Amount: c.Amount})
	}
	return expenseJSON{
		ID:            e.ID,
		GroupID:       e.GroupID,
		PaidBy:        e.Payer(),
		Description:   e.Description,
		Amount:        e.Amount,
		Split:         e.Split,
		Contributions: contribs,
		CreatedAt:     e.CreatedAt,
	}
}

type expenseRequest struct {
	Description   string             `json:"description"`
	Amount        core.Money         `json:"amount"`
	PaidBy        string             `json:"paidBy"`
	GroupID       string             `json:"groupId"`
	Split         core.SplitType     `json:"split"`
	Contributions []contributionJSON `json:"contributions"`
	// Participants is used for equal splits without explicit contributions.
	Participants []string `json:"participants"`
}

func (req expenseRequest) toExpense(userID string) core.Expense {
	contribs := make([]core.Contribution, 0, len(req.Contributions))
	for _, c := range req.Contributions {
		contribs = append(contribs, core.Contribution{FriendID: c.FriendID, Amount: c.Amount})
	}
	return core.Expense{
		UserID:        userID,
		GroupID:       req.GroupID,
		PaidBy:        req.PaidBy,
		Description:   sanitizeInput(req.Description),
		Amount:        req.Amount,
		Split:         req.Split,
		Contributions: contribs,
	}
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r.Context())

	var (
		expenses []core.Expense
		err      error
	)
	if groupID := r.URL.Query().Get("groupId"); groupID != "" {
		group, gerr := s.store.GetGroup(r.Context(), groupID)
		if gerr != nil {
			writeStoreError(w, gerr)
			return
		}
		if group.UserID != userID {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		expenses, err = s.expenses.ListGroupExpenses(r.Context(), groupID)
	} else {
		expenses, err = s.expenses.ListExpenses(r.Context(), userID)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]expenseJSON, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toExpenseJSON(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r.Context())

	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	e := req.toExpense(userID)
	if e.PaidBy == "" {
		e.PaidBy = userID
	}

	created, err := s.expenses.CreateExpense(r.Context(), e, req.Participants)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	s.invalidateSettlements(userID, created.GroupID)
	writeJSON(w, http.StatusCreated, toExpenseJSON(created))
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := s.expenses.GetExpense(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if e.UserID != currentUserID(r.Context()) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, toExpenseJSON(e))
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r.Context())
	id := mux.Vars(r)["id"]

	existing, err := s.expenses.GetExpense(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if existing.UserID != userID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	e := req.toExpense(userID)
	e.ID = existing.ID
	e.CreatedAt = existing.CreatedAt
	if e.PaidBy == "" {
		e.PaidBy = existing.Payer()
	}

	if err := s.expenses.UpdateExpense(r.Context(), e); err != nil {
		writeValidationError(w, err)
		return
	}

	s.invalidateSettlements(userID, existing.GroupID)
	s.invalidateSettlements(userID, e.GroupID)
	writeJSON(w, http.StatusOK, toExpenseJSON(e))
}

// handlePatchExpenseAmount changes only the total; contributions rescale
// proportionally so they keep summing to the new amount.
func (s *Server) handlePatchExpenseAmount(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r.Context())
	id := mux.Vars(r)["id"]

	existing, err := s.expenses.GetExpense(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if existing.UserID != userID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var req struct {
		Amount core.Money `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := s.expenses.UpdateExpenseAmount(r.Context(), id, req.Amount)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	s.invalidateSettlements(userID, updated.GroupID)
	writeJSON(w, http.StatusOK, toExpenseJSON(updated))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r.Context())
	id := mux.Vars(r)["id"]

	existing, err := s.expenses.GetExpense(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if existing.UserID != userID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := s.expenses.DeleteExpense(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}

	s.invalidateSettlements(userID, existing.GroupID)
	w.WriteHeader(http.StatusNoContent)
}

func writeValidationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrEmptyDescription),
		errors.Is(err, core.ErrDescriptionTooLong),
		errors.Is(err, core.ErrNoPayer),
		errors.Is(err, core.ErrSharesMismatch):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
