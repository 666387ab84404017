package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"conti/internal/amqp"
	"conti/internal/core"
)

type expenseStore interface {
	CreateExpense(ctx context.Context, e core.Expense) error
	UpdateExpense(ctx context.Context, e core.Expense) error
	GetExpense(ctx context.Context, id string) (core.Expense, error)
	ListExpensesByUser(ctx context.Context, userID string) ([]core.Expense, error)
	ListExpensesByGroup(ctx context.Context, groupID string) ([]core.Expense, error)
	SoftDeleteExpense(ctx context.Context, id string) error
	MarkSnapshotStale(ctx context.Context, scopeKey string) error
}

// EventPublisher is the broker surface the services need. It stays an
// interface so callers can run without a broker by passing nil.
type EventPublisher interface {
	PublishExpenseEvent(ctx context.Context, event *amqp.ExpenseEvent) error
}

// ExpenseService orchestrates expense writes across SQLite and AMQP. The
// database is the source of truth; event publication is best effort and a
// broker outage never fails the request.
type ExpenseService struct {
	store  expenseStore
	events EventPublisher
}

func NewExpenseService(store expenseStore, events EventPublisher) *ExpenseService {
	return &ExpenseService{store: store, events: events}
}

// CreateExpense validates and saves a new expense. An equal split with no
// contributions yet gets them materialized from the participant list.
func (s *ExpenseService) CreateExpense(ctx context.Context, e core.Expense, participantIDs []string) (core.Expense, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Split == "" {
		e.Split = core.SplitEqual
	}

	if e.Split == core.SplitEqual && len(e.Contributions) == 0 {
		e.Contributions = equalContributions(e.Amount, participantIDs)
	}

	if err := e.Validate(); err != nil {
		return core.Expense{}, fmt.Errorf("validate expense: %w", err)
	}

	if err := s.store.CreateExpense(ctx, e); err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}

	s.invalidateScopes(ctx, e.UserID, e.GroupID)
	s.publish(ctx, amqp.NewExpenseEvent(amqp.EventExpenseChanged, e.ID, e.UserID, e.GroupID))

	return e, nil
}

// UpdateExpenseAmount changes the total of an existing expense and rescales
// its contributions proportionally so they keep summing to the new total.
func (s *ExpenseService) UpdateExpenseAmount(ctx context.Context, id string, newAmount core.Money) (core.Expense, error) {
	e, err := s.store.GetExpense(ctx, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("load expense: %w", err)
	}

	e.Contributions = core.RescaleContributions(e.Amount, newAmount, e.Contributions)
	e.Amount = newAmount

	if err := e.Validate(); err != nil {
		return core.Expense{}, fmt.Errorf("validate expense: %w", err)
	}
	if err := s.store.UpdateExpense(ctx, e); err != nil {
		return core.Expense{}, fmt.Errorf("update expense: %w", err)
	}

	s.invalidateScopes(ctx, e.UserID, e.GroupID)
	s.publish(ctx, amqp.NewExpenseEvent(amqp.EventExpenseChanged, e.ID, e.UserID, e.GroupID))

	return e, nil
}

// UpdateExpense replaces an expense wholesale, contributions included.
func (s *ExpenseService) UpdateExpense(ctx context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("validate expense: %w", err)
	}
	if err := s.store.UpdateExpense(ctx, e); err != nil {
		return fmt.Errorf("update expense: %w", err)
	}

	s.invalidateScopes(ctx, e.UserID, e.GroupID)
	s.publish(ctx, amqp.NewExpenseEvent(amqp.EventExpenseChanged, e.ID, e.UserID, e.GroupID))

	return nil
}

// DeleteExpense soft deletes an expense so history stays queryable.
func (s *ExpenseService) DeleteExpense(ctx context.Context, id string) error {
	e, err := s.store.GetExpense(ctx, id)
	if err != nil {
		return fmt.Errorf("load expense: %w", err)
	}
	if err := s.store.SoftDeleteExpense(ctx, id); err != nil {
		return fmt.Errorf("soft delete expense: %w", err)
	}

	s.invalidateScopes(ctx, e.UserID, e.GroupID)
	s.publish(ctx, amqp.NewExpenseEvent(amqp.EventExpenseDeleted, id, e.UserID, e.GroupID))

	return nil
}

func (s *ExpenseService) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	return s.store.GetExpense(ctx, id)
}

func (s *ExpenseService) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	return s.store.ListExpensesByUser(ctx, userID)
}

func (s *ExpenseService) ListGroupExpenses(ctx context.Context, groupID string) ([]core.Expense, error) {
	return s.store.ListExpensesByGroup(ctx, groupID)
}

func (s *ExpenseService) publish(ctx context.Context, event *amqp.ExpenseEvent) {
	if s.events == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping event", "kind", event.Kind)
		return
	}
	if err := s.events.PublishExpenseEvent(ctx, event); err != nil {
		slog.ErrorContext(ctx, "Failed to publish expense event",
			"kind", event.Kind, "expense_id", event.ExpenseID, "error", err)
	}
}

func (s *ExpenseService) invalidateScopes(ctx context.Context, userID, groupID string) {
	for _, key := range scopeKeys(userID, groupID) {
		if err := s.store.MarkSnapshotStale(ctx, key); err != nil {
			slog.ErrorContext(ctx, "Failed to mark snapshot stale", "scope", key, "error", err)
		}
	}
}

func scopeKeys(userID, groupID string) []string {
	keys := []string{"user:" + userID}
	if groupID != "" {
		keys = append(keys, "group:"+groupID)
	}
	return keys
}

// equalContributions splits an amount evenly across the given participants.
// The per-head share is rounded to the nearest cent and the leftover lands on
// the first participant.
func equalContributions(amount core.Money, participantIDs []string) []core.Contribution {
	if len(participantIDs) == 0 {
		return nil
	}
	contribs := make([]core.Contribution, len(participantIDs))
	for i, id := range participantIDs {
		contribs[i] = core.Contribution{FriendID: id}
	}
	return core.RescaleContributions(core.Money{}, amount, contribs)
}
