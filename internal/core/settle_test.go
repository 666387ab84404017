package core

import (
	"reflect"
	"testing"
)

func sheetFromNet(net map[string]int64) BalanceSheet {
	// net > 0 means the participant is owed money overall.
	sheet := BalanceSheet{
		OwedByMe: make(map[string]Money),
		OwedToMe: make(map[string]Money),
	}
	for id, n := range net {
		switch {
		case n > 0:
			sheet.OwedToMe[id] = Money{Cents: n}
		case n < 0:
			sheet.OwedByMe[id] = Money{Cents: -n}
		}
	}
	return sheet
}

func TestSimplifyDebtsBasic(t *testing.T) {
	// net {A:+30, B:-10, C:-20}
	sheet := sheetFromNet(map[string]int64{"A": 3000, "B": -1000, "C": -2000})

	got := SimplifyDebts(sheet, []string{"A", "B", "C"}, "U")

	want := []Transfer{
		{From: "B", To: "A", Amount: Money{Cents: 1000}},
		{From: "C", To: "A", Amount: Money{Cents: 2000}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("transfers = %+v, want %+v", got, want)
	}
}

func TestSimplifyDebtsDropsZeroPositions(t *testing.T) {
	// Three-way chain where B nets out to zero and disappears.
	sheet := sheetFromNet(map[string]int64{"A": 4000, "B": 0, "C": -4000})

	got := SimplifyDebts(sheet, []string{"A", "B", "C"}, "")

	want := []Transfer{{From: "C", To: "A", Amount: Money{Cents: 4000}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("transfers = %+v, want %+v", got, want)
	}
}

func TestSimplifyDebtsEmptySides(t *testing.T) {
	if got := SimplifyDebts(BalanceSheet{}, nil, ""); len(got) != 0 {
		t.Fatalf("empty sheet should yield no transfers, got %+v", got)
	}
	onlyCreditors := sheetFromNet(map[string]int64{"A": 500})
	if got := SimplifyDebts(onlyCreditors, []string{"A"}, ""); len(got) != 0 {
		t.Fatalf("no debtors should yield no transfers, got %+v", got)
	}
}

func TestSimplifyDebtsIncludesSheetOnlyParticipants(t *testing.T) {
	// D appears only in the sheet, not in the roster, and must still settle.
	sheet := sheetFromNet(map[string]int64{"A": 1200, "D": -1200})

	got := SimplifyDebts(sheet, []string{"A"}, "U")

	want := []Transfer{{From: "D", To: "A", Amount: Money{Cents: 1200}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("transfers = %+v, want %+v", got, want)
	}
}

func TestSimplifyDebtsDeterministic(t *testing.T) {
	sheet := sheetFromNet(map[string]int64{
		"A": 5000, "B": -2000, "C": -1500, "D": -1500, "E": 0,
	})
	roster := []string{"A", "B", "C", "D", "E"}

	first := SimplifyDebts(sheet, roster, "U")
	for i := 0; i < 20; i++ {
		if got := SimplifyDebts(sheet, roster, "U"); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

// Conservation: summing transfers by sender reproduces each debtor's
// magnitude exactly, and by receiver each creditor's magnitude.
func TestSimplifyDebtsConservation(t *testing.T) {
	net := map[string]int64{
		"A": 3333, "B": -1200, "C": 2767, "D": -4900, "E": 0, "F": 0,
	}
	sheet := sheetFromNet(net)
	roster := []string{"A", "B", "C", "D", "E", "F"}

	transfers := SimplifyDebts(sheet, roster, "")

	sent := make(map[string]int64)
	received := make(map[string]int64)
	for _, tr := range transfers {
		if tr.Amount.Cents <= 0 {
			t.Fatalf("non-positive transfer emitted: %+v", tr)
		}
		sent[tr.From] += tr.Amount.Cents
		received[tr.To] += tr.Amount.Cents
	}
	for id, n := range net {
		switch {
		case n < 0:
			if sent[id] != -n {
				t.Fatalf("debtor %s sent %d, want %d", id, sent[id], -n)
			}
		case n > 0:
			if received[id] != n {
				t.Fatalf("creditor %s received %d, want %d", id, received[id], n)
			}
		default:
			if sent[id] != 0 || received[id] != 0 {
				t.Fatalf("zero participant %s involved in transfers", id)
			}
		}
	}

	// Size bound: at most debtors+creditors-1 transfers.
	debtors, creditors := 0, 0
	for _, n := range net {
		if n < 0 {
			debtors++
		} else if n > 0 {
			creditors++
		}
	}
	if max := debtors + creditors - 1; len(transfers) > max {
		t.Fatalf("%d transfers exceeds bound %d", len(transfers), max)
	}
}
