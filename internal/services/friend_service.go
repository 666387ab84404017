package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"conti/internal/amqp"
	"conti/internal/core"
)

type friendStore interface {
	CreateFriend(ctx context.Context, f core.Friend) error
	GetFriend(ctx context.Context, id string) (core.Friend, error)
	ListFriends(ctx context.Context, userID string) ([]core.Friend, error)
	RecordDeletedFriendName(ctx context.Context, friendID, name string) error
	RemoveFriendEverywhere(ctx context.Context, userID, friendID string) error
	MarkSnapshotStale(ctx context.Context, scopeKey string) error
}

var ErrEmptyName = errors.New("name must not be empty")

// FriendService manages the friend roster and the removal patch that keeps
// historical expenses consistent when a friend leaves.
type FriendService struct {
	store  friendStore
	events EventPublisher
}

func NewFriendService(store friendStore, events EventPublisher) *FriendService {
	return &FriendService{store: store, events: events}
}

func (s *FriendService) AddFriend(ctx context.Context, userID, name string) (core.Friend, error) {
	if name == "" {
		return core.Friend{}, ErrEmptyName
	}
	f := core.Friend{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateFriend(ctx, f); err != nil {
		return core.Friend{}, fmt.Errorf("save friend: %w", err)
	}
	return f, nil
}

func (s *FriendService) ListFriends(ctx context.Context, userID string) ([]core.Friend, error) {
	return s.store.ListFriends(ctx, userID)
}

// RemoveFriend deletes a friend and patches everything that referenced them:
// their contributions are dropped, expenses they paid are reassigned to the
// owner, and they leave every group. Their display name is kept in a side
// table so old expenses can still render it.
func (s *FriendService) RemoveFriend(ctx context.Context, userID, friendID string) error {
	f, err := s.store.GetFriend(ctx, friendID)
	if err != nil {
		return fmt.Errorf("load friend: %w", err)
	}

	if err := s.store.RecordDeletedFriendName(ctx, friendID, f.Name); err != nil {
		return fmt.Errorf("record deleted name: %w", err)
	}
	if err := s.store.RemoveFriendEverywhere(ctx, userID, friendID); err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}

	if err := s.store.MarkSnapshotStale(ctx, "user:"+userID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark snapshot stale", "user_id", userID, "error", err)
	}

	if s.events == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping event", "kind", amqp.EventFriendRemoved)
		return nil
	}
	if err := s.events.PublishExpenseEvent(ctx, amqp.NewExpenseEvent(amqp.EventFriendRemoved, "", userID, "")); err != nil {
		slog.ErrorContext(ctx, "Failed to publish friend removal event",
			"friend_id", friendID, "error", err)
	}
	return nil
}
