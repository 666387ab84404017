package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"conti/internal/core"
)

type balanceStore interface {
	ListFriends(ctx context.Context, userID string) ([]core.Friend, error)
	ListExpensesByUser(ctx context.Context, userID string) ([]core.Expense, error)
	ListExpensesByGroup(ctx context.Context, groupID string) ([]core.Expense, error)
	GetGroup(ctx context.Context, id string) (core.Group, error)
}

// Settlement bundles a balance sheet with the minimal transfer plan that
// clears it.
type Settlement struct {
	Sheet     core.BalanceSheet
	Transfers []core.Transfer
}

// BalanceService computes balance sheets and settlement plans on demand.
// Nothing here is persisted; the snapshot worker caches results separately.
type BalanceService struct {
	store balanceStore
}

func NewBalanceService(store balanceStore) *BalanceService {
	return &BalanceService{store: store}
}

// Balances aggregates every live expense of a user into their balance sheet.
func (s *BalanceService) Balances(ctx context.Context, userID string) (core.BalanceSheet, error) {
	expenses, err := s.store.ListExpensesByUser(ctx, userID)
	if err != nil {
		return core.BalanceSheet{}, fmt.Errorf("list expenses: %w", err)
	}
	return core.AggregateBalances(expenses, userID), nil
}

// SettleUp computes the user's balance sheet and the transfer plan clearing
// it. Friends and expenses load concurrently; the friend roster fixes the
// participant order so repeated calls produce identical plans.
func (s *BalanceService) SettleUp(ctx context.Context, userID string) (Settlement, error) {
	var (
		friends  []core.Friend
		expenses []core.Expense
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		friends, err = s.store.ListFriends(gctx, userID)
		if err != nil {
			return fmt.Errorf("list friends: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		expenses, err = s.store.ListExpensesByUser(gctx, userID)
		if err != nil {
			return fmt.Errorf("list expenses: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Settlement{}, err
	}

	roster := make([]string, 0, len(friends))
	for _, f := range friends {
		roster = append(roster, f.ID)
	}

	sheet := core.AggregateBalances(expenses, userID)
	return Settlement{
		Sheet:     sheet,
		Transfers: core.SimplifyDebts(sheet, roster, userID),
	}, nil
}

// GroupSettleUp is SettleUp scoped to one group. The group member list fixes
// the participant order.
func (s *BalanceService) GroupSettleUp(ctx context.Context, userID, groupID string) (Settlement, error) {
	var (
		group    core.Group
		expenses []core.Expense
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		group, err = s.store.GetGroup(gctx, groupID)
		if err != nil {
			return fmt.Errorf("load group: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		expenses, err = s.store.ListExpensesByGroup(gctx, groupID)
		if err != nil {
			return fmt.Errorf("list group expenses: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Settlement{}, err
	}

	sheet := core.AggregateBalances(expenses, userID)
	return Settlement{
		Sheet:     sheet,
		Transfers: core.SimplifyDebts(sheet, group.MemberIDs, userID),
	}, nil
}
