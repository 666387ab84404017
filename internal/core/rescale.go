package core

// RescaleContributions recomputes each participant's share after an expense's
// total changed, keeping shares proportional to the original split and making
// the new total match exactly.
//
// Each share is scaled by newAmount/oldAmount and rounded half away from zero
// to the cent. Whatever rounding remainder is left over goes entirely to the
// first contribution in input order; first-absorbs-the-remainder is a
// deliberate, deterministic policy, simpler than proportional distribution.
//
// When oldAmount is zero or negative there is nothing to be proportional to,
// so the new amount is split equally across the listed participants instead.
// Participant identity and order are always preserved. Zero or negative new
// amounts are not rejected here; they propagate arithmetically and the caller
// is responsible for validating totals up front.
func RescaleContributions(oldAmount, newAmount Money, contribs []Contribution) []Contribution {
	if len(contribs) == 0 {
		return nil
	}

	out := make([]Contribution, len(contribs))
	if oldAmount.Cents <= 0 {
		per := divRoundNearest(newAmount.Cents, int64(len(contribs)))
		for i, c := range contribs {
			out[i] = Contribution{FriendID: c.FriendID, Amount: Money{Cents: per}}
		}
	} else {
		for i, c := range contribs {
			scaled := divRoundNearest(c.Amount.Cents*newAmount.Cents, oldAmount.Cents)
			out[i] = Contribution{FriendID: c.FriendID, Amount: Money{Cents: scaled}}
		}
	}

	var sum int64
	for _, c := range out {
		sum += c.Amount.Cents
	}
	if diff := newAmount.Cents - sum; diff != 0 {
		out[0].Amount.Cents += diff
	}
	return out
}
