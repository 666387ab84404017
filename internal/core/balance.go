package core

// BalanceSheet is the per-counterparty view of one user's position: amounts
// the user still owes and amounts owed back. Both maps hold only strictly
// positive totals and are rebuilt from scratch on every call, never stored.
type BalanceSheet struct {
	OwedByMe map[string]Money
	OwedToMe map[string]Money
}

// TotalOwedByMe sums everything the user owes across counterparties.
func (b BalanceSheet) TotalOwedByMe() Money {
	var total int64
	for _, m := range b.OwedByMe {
		total += m.Cents
	}
	return Money{Cents: total}
}

// TotalOwedToMe sums everything owed back to the user.
func (b BalanceSheet) TotalOwedToMe() Money {
	var total int64
	for _, m := range b.OwedToMe {
		total += m.Cents
	}
	return Money{Cents: total}
}

// AggregateBalances folds a list of expenses into the current user's balance
// sheet. For each contribution: if the payer is the current user the
// counterparty owes the share; if the contributor is the current user the
// share is owed to the payer; contributions between third parties are ignored.
//
// Malformed records degrade to zero contribution instead of failing the whole
// aggregation: a nil list, an expense without contributions, an empty
// participant id or a non-positive share are all skipped silently.
func AggregateBalances(expenses []Expense, currentUserID string) BalanceSheet {
	sheet := BalanceSheet{
		OwedByMe: make(map[string]Money),
		OwedToMe: make(map[string]Money),
	}
	if currentUserID == "" {
		return sheet
	}

	for _, exp := range expenses {
		payer := exp.Payer()
		for _, c := range exp.Contributions {
			if c.FriendID == "" || c.Amount.Cents <= 0 {
				continue
			}
			switch {
			case payer == currentUserID:
				prev := sheet.OwedToMe[c.FriendID]
				sheet.OwedToMe[c.FriendID] = Money{Cents: prev.Cents + c.Amount.Cents}
			case c.FriendID == currentUserID:
				prev := sheet.OwedByMe[payer]
				sheet.OwedByMe[payer] = Money{Cents: prev.Cents + c.Amount.Cents}
			}
		}
	}
	return sheet
}
