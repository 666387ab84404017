package core

import (
	"errors"
	"testing"
)

func TestExpenseValidate(t *testing.T) {
	valid := Expense{
		UserID:      "U",
		PaidBy:      "U",
		Description: "Dinner",
		Amount:      Money{Cents: 4500},
		Split:       SplitEqual,
		Contributions: []Contribution{
			{FriendID: "F1", Amount: Money{Cents: 2250}},
			{FriendID: "F2", Amount: Money{Cents: 2250}},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid expense rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Expense)
		want   error
	}{
		{"empty description", func(e *Expense) { e.Description = "  " }, ErrEmptyDescription},
		{"zero amount", func(e *Expense) { e.Amount = Money{} }, ErrInvalidAmount},
		{"no payer", func(e *Expense) { e.PaidBy = ""; e.UserID = "" }, ErrNoPayer},
		{"custom shares mismatch", func(e *Expense) {
			e.Split = SplitCustom
			e.Contributions = []Contribution{{FriendID: "F1", Amount: Money{Cents: 100}}}
		}, ErrSharesMismatch},
	}
	for _, tc := range cases {
		e := valid
		tc.mutate(&e)
		if err := e.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestExpensePayerFallback(t *testing.T) {
	if got := (Expense{PaidBy: "F1", UserID: "U"}).Payer(); got != "F1" {
		t.Fatalf("Payer = %q, want F1", got)
	}
	if got := (Expense{UserID: "U"}).Payer(); got != "U" {
		t.Fatalf("Payer fallback = %q, want U", got)
	}
}

func TestCustomSplitToleratesOneCentDrift(t *testing.T) {
	e := Expense{
		UserID:      "U",
		Description: "Taxi",
		Amount:      Money{Cents: 1000},
		Split:       SplitCustom,
		Contributions: []Contribution{
			{FriendID: "F1", Amount: Money{Cents: 333}},
			{FriendID: "F2", Amount: Money{Cents: 333}},
			{FriendID: "F3", Amount: Money{Cents: 333}},
		},
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("one cent drift should be tolerated: %v", err)
	}
}
