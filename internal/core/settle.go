package core

import "sort"

// Transfer is one recommended direct payment. Amount is always strictly
// positive. A transfer list is a settlement recommendation, recomputed
// whenever the underlying expenses change.
type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount Money  `json:"amount"`
}

type netPosition struct {
	id    string
	cents int64 // remaining magnitude while matching
}

// SimplifyDebts nets the balance sheet across all participants and emits a
// list of transfers that settles every position: if A owes B and B owes C the
// middle hop disappears.
//
// The participant universe is the union of participantIDs, the current user
// and every key in the sheet. Matching is greedy two-pointer over debtors and
// creditors: each step transfers min(debtor, creditor) and exhausts at least
// one side, so at most len(debtors)+len(creditors)-1 transfers are produced.
// The result is a valid linear-time settlement, not necessarily the
// information-theoretic minimum number of transfers.
//
// Ordering is an implementation choice but must be deterministic: roster order
// first, then the current user, then any remaining sheet keys sorted (Go map
// iteration is randomized, so the order is built explicitly).
func SimplifyDebts(sheet BalanceSheet, participantIDs []string, currentUserID string) []Transfer {
	ordered := make([]string, 0, len(participantIDs)+len(sheet.OwedByMe)+len(sheet.OwedToMe)+1)
	seen := make(map[string]bool)
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ordered = append(ordered, id)
	}
	for _, id := range participantIDs {
		add(id)
	}
	add(currentUserID)
	rest := make([]string, 0, len(sheet.OwedByMe)+len(sheet.OwedToMe))
	for id := range sheet.OwedByMe {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	for id := range sheet.OwedToMe {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		add(id)
	}

	var debtors, creditors []netPosition
	for _, id := range ordered {
		net := sheet.OwedToMe[id].Cents - sheet.OwedByMe[id].Cents
		switch {
		case net > 0:
			creditors = append(creditors, netPosition{id: id, cents: net})
		case net < 0:
			debtors = append(debtors, netPosition{id: id, cents: -net})
		}
	}

	var transfers []Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		d := &debtors[i]
		c := &creditors[j]
		amount := d.cents
		if c.cents < amount {
			amount = c.cents
		}
		if amount > 0 {
			transfers = append(transfers, Transfer{
				From:   d.id,
				To:     c.id,
				Amount: Money{Cents: amount},
			})
		}
		d.cents -= amount
		c.cents -= amount
		if d.cents <= 0 {
			i++
		}
		if c.cents <= 0 {
			j++
		}
	}
	return transfers
}
