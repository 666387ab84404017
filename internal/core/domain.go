package core

import (
	"errors"
	"strings"
	"time"
)

const (
	SplitEqual  SplitType = "equal"
	SplitCustom SplitType = "custom"
)

type (
	SplitType string

	Money struct {
		Cents int64
	}

	// Contribution is how much one participant owes the payer for a single
	// expense. Slice order is insertion order and matters for rounding.
	Contribution struct {
		FriendID string
		Amount   Money
	}

	Expense struct {
		ID            string
		UserID        string // owner (the account that recorded it)
		GroupID       string
		PaidBy        string
		Description   string
		Amount        Money
		Split         SplitType
		Contributions []Contribution
		CreatedAt     time.Time
	}

	Friend struct {
		ID        string
		UserID    string
		Name      string
		Email     string
		CreatedAt time.Time
	}

	Group struct {
		ID        string
		UserID    string
		Name      string
		MemberIDs []string
		CreatedAt time.Time
	}

	User struct {
		ID           string
		Name         string
		Email        string
		PasswordHash string
		CreatedAt    time.Time
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrNoPayer            = errors.New("no payer")
	ErrSharesMismatch     = errors.New("shares do not add up to the total amount")
	ErrNotFound           = errors.New("not found")
)

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Payer returns the participant who paid the full amount, falling back to
// the record owner when PaidBy is absent. Both shapes occur in stored data.
func (e Expense) Payer() string {
	if e.PaidBy != "" {
		return e.PaidBy
	}
	return e.UserID
}

func (e Expense) Validate() error {
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return ErrDescriptionTooLong
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if e.Payer() == "" {
		return ErrNoPayer
	}
	// Custom splits must add up to the total; equal splits are derived and may
	// drift by at most one cent, which the contribution rescaler absorbs.
	if e.Split == SplitCustom {
		var sum int64
		for _, c := range e.Contributions {
			sum += c.Amount.Cents
		}
		if diff := sum - e.Amount.Cents; diff > 1 || diff < -1 {
			return ErrSharesMismatch
		}
	}
	return nil
}

func (f Friend) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return errors.New("empty friend name")
	}
	if f.UserID == "" {
		return errors.New("friend has no owner")
	}
	return nil
}

func (g Group) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return errors.New("empty group name")
	}
	if g.UserID == "" {
		return errors.New("group has no owner")
	}
	return nil
}
