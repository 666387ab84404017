package http

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"conti/internal/core"
	"conti/internal/names"
	"conti/internal/services"
)

type balancesJSON struct {
	OwedByMe      map[string]core.Money `json:"owedByMe"`
	OwedToMe      map[string]core.Money `json:"owedToMe"`
	TotalOwedByMe core.Money            `json:"totalOwedByMe"`
	TotalOwedToMe core.Money            `json:"totalOwedToMe"`
}

type transferJSON struct {
	From     string     `json:"from"`
	FromName string     `json:"fromName"`
	To       string     `json:"to"`
	ToName   string     `json:"toName"`
	Amount   core.Money `json:"amount"`
}

type settlementJSON struct {
	Balances  balancesJSON   `json:"balances"`
	Transfers []transferJSON `json:"transfers"`
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	sheet, err := s.balances.Balances(r.Context(), currentUserID(r.Context()))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalancesJSON(sheet))
}

func (s *Server) handleSettleUp(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r.Context())
	cacheKey := "user:" + userID

	settlement, found := s.settleCache.Get(cacheKey)
	if !found {
		var err error
		settlement, err = s.balances.SettleUp(r.Context(), userID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		s.settleCache.Set(cacheKey, settlement)
	} else {
		slog.DebugContext(r.Context(), "Settlement cache hit", "scope", cacheKey)
	}

	s.writeSettlement(w, r, userID, settlement)
}

func (s *Server) handleGroupSettleUp(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r.Context())
	groupID := mux.Vars(r)["id"]

	group, err := s.store.GetGroup(r.Context(), groupID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if group.UserID != userID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	cacheKey := "group:" + groupID
	settlement, found := s.settleCache.Get(cacheKey)
	if !found {
		settlement, err = s.balances.GroupSettleUp(r.Context(), userID, groupID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		s.settleCache.Set(cacheKey, settlement)
	} else {
		slog.DebugContext(r.Context(), "Settlement cache hit", "scope", cacheKey)
	}

	s.writeSettlement(w, r, userID, settlement)
}

func (s *Server) writeSettlement(w http.ResponseWriter, r *http.Request, userID string, settlement services.Settlement) {
	friends, err := s.friends.ListFriends(r.Context(), userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list friends for name resolution", "error", err)
		friends = nil
	}
	resolver := names.NewResolver(userID, friends, s.store)

	transfers := make([]transferJSON, 0, len(settlement.Transfers))
	for _, tr := range settlement.Transfers {
		transfers = append(transfers, transferJSON{
			From:     tr.From,
			FromName: resolver.DisplayName(r.Context(), tr.From),
			To:       tr.To,
			ToName:   resolver.DisplayName(r.Context(), tr.To),
			Amount:   tr.Amount,
		})
	}

	writeJSON(w, http.StatusOK, settlementJSON{
		Balances:  toBalancesJSON(settlement.Sheet),
		Transfers: transfers,
	})
}

func toBalancesJSON(sheet core.BalanceSheet) balancesJSON {
	owedByMe := sheet.OwedByMe
	if owedByMe == nil {
		owedByMe = map[string]core.Money{}
	}
	owedToMe := sheet.OwedToMe
	if owedToMe == nil {
		owedToMe = map[string]core.Money{}
	}
	return balancesJSON{
		OwedByMe:      owedByMe,
		OwedToMe:      owedToMe,
		TotalOwedByMe: sheet.TotalOwedByMe(),
		TotalOwedToMe: sheet.TotalOwedToMe(),
	}
}
