package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"conti/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "conti.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestUserRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u := core.User{ID: "u1", Name: "Anna", Email: "anna@example.com", PasswordHash: "x"}
	if err := repo.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}

	got, err := repo.GetUserByEmail(ctx, "anna@example.com")
	if err != nil {
		t.Fatalf("get user by email: %v", err)
	}
	if got.ID != "u1" || got.Name != "Anna" {
		t.Fatalf("unexpected user: %+v", got)
	}

	if _, err := repo.GetUser(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExpenseContributionOrderSurvivesRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	e := core.Expense{
		ID:          "e1",
		UserID:      "u1",
		PaidBy:      "u1",
		Description: "Dinner",
		Amount:      core.Money{Cents: 10001},
		Split:       core.SplitCustom,
		Contributions: []core.Contribution{
			{FriendID: "f1", Amount: core.Money{Cents: 3333}},
			{FriendID: "f2", Amount: core.Money{Cents: 3333}},
			{FriendID: "f3", Amount: core.Money{Cents: 3335}},
		},
	}
	if err := repo.CreateExpense(ctx, e); err != nil {
		t.Fatalf("create expense: %v", err)
	}

	got, err := repo.GetExpense(ctx, "e1")
	if err != nil {
		t.Fatalf("get expense: %v", err)
	}
	if len(got.Contributions) != 3 {
		t.Fatalf("got %d contributions", len(got.Contributions))
	}
	// Order is load-bearing: the rescaler sends the rounding remainder to the
	// first contribution, so position must survive storage.
	for i, want := range []string{"f1", "f2", "f3"} {
		if got.Contributions[i].FriendID != want {
			t.Fatalf("contribution %d = %s, want %s", i, got.Contributions[i].FriendID, want)
		}
	}
}

func TestUpdateExpenseReplacesContributions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	e := core.Expense{
		ID: "e1", UserID: "u1", PaidBy: "u1", Description: "Taxi",
		Amount: core.Money{Cents: 10000},
		Contributions: []core.Contribution{
			{FriendID: "f1", Amount: core.Money{Cents: 6000}},
			{FriendID: "f2", Amount: core.Money{Cents: 4000}},
		},
	}
	if err := repo.CreateExpense(ctx, e); err != nil {
		t.Fatalf("create expense: %v", err)
	}

	e.Amount = core.Money{Cents: 15000}
	e.Contributions = core.RescaleContributions(
		core.Money{Cents: 10000}, core.Money{Cents: 15000}, e.Contributions)
	if err := repo.UpdateExpense(ctx, e); err != nil {
		t.Fatalf("update expense: %v", err)
	}

	got, err := repo.GetExpense(ctx, "e1")
	if err != nil {
		t.Fatalf("get expense: %v", err)
	}
	if got.Amount.Cents != 15000 {
		t.Fatalf("amount = %d, want 15000", got.Amount.Cents)
	}
	if got.Contributions[0].Amount.Cents != 9000 || got.Contributions[1].Amount.Cents != 6000 {
		t.Fatalf("rescaled contributions not persisted: %+v", got.Contributions)
	}
}

func TestSoftDeleteHidesExpense(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	e := core.Expense{ID: "e1", UserID: "u1", PaidBy: "u1", Description: "Coffee", Amount: core.Money{Cents: 300}}
	if err := repo.CreateExpense(ctx, e); err != nil {
		t.Fatalf("create expense: %v", err)
	}
	if err := repo.SoftDeleteExpense(ctx, "e1"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := repo.GetExpense(ctx, "e1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("deleted expense still visible: %v", err)
	}
	if err := repo.SoftDeleteExpense(ctx, "e1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("double delete should be ErrNotFound, got %v", err)
	}
}

func TestRemoveFriendEverywhere(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateFriend(ctx, core.Friend{ID: "f1", UserID: "u1", Name: "Bea"}); err != nil {
		t.Fatalf("create friend: %v", err)
	}
	if err := repo.CreateGroup(ctx, core.Group{ID: "g1", UserID: "u1", Name: "Trip", MemberIDs: []string{"f1", "f2"}}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	paidByFriend := core.Expense{
		ID: "e1", UserID: "u1", PaidBy: "f1", Description: "Hotel",
		Amount: core.Money{Cents: 20000},
		Contributions: []core.Contribution{
			{FriendID: "u1", Amount: core.Money{Cents: 10000}},
			{FriendID: "f2", Amount: core.Money{Cents: 10000}},
		},
	}
	withFriendShare := core.Expense{
		ID: "e2", UserID: "u1", PaidBy: "u1", Description: "Dinner",
		Amount: core.Money{Cents: 6000},
		Contributions: []core.Contribution{
			{FriendID: "f1", Amount: core.Money{Cents: 3000}},
			{FriendID: "f2", Amount: core.Money{Cents: 3000}},
		},
	}
	for _, e := range []core.Expense{paidByFriend, withFriendShare} {
		if err := repo.CreateExpense(ctx, e); err != nil {
			t.Fatalf("create expense %s: %v", e.ID, err)
		}
	}

	if err := repo.RemoveFriendEverywhere(ctx, "u1", "f1"); err != nil {
		t.Fatalf("remove friend: %v", err)
	}

	group, err := repo.GetGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if len(group.MemberIDs) != 1 || group.MemberIDs[0] != "f2" {
		t.Fatalf("group members = %v, want [f2]", group.MemberIDs)
	}

	e1, err := repo.GetExpense(ctx, "e1")
	if err != nil {
		t.Fatalf("get e1: %v", err)
	}
	if e1.PaidBy != "u1" {
		t.Fatalf("paid_by = %s, want reassigned to u1", e1.PaidBy)
	}

	e2, err := repo.GetExpense(ctx, "e2")
	if err != nil {
		t.Fatalf("get e2: %v", err)
	}
	if len(e2.Contributions) != 1 || e2.Contributions[0].FriendID != "f2" {
		t.Fatalf("f1 contribution not dropped: %+v", e2.Contributions)
	}

	if _, err := repo.GetFriend(ctx, "f1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("friend row should be gone, got %v", err)
	}
}

func TestBalanceSnapshotLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.MarkSnapshotStale(ctx, "user:u1"); err != nil {
		t.Fatalf("mark stale: %v", err)
	}
	keys, err := repo.ListStaleSnapshotKeys(ctx, 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(keys) != 1 || keys[0] != "user:u1" {
		t.Fatalf("stale keys = %v", keys)
	}

	if err := repo.SaveBalanceSnapshot(ctx, "user:u1", []byte(`{"transfers":[]}`)); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	payload, computedAt, err := repo.GetBalanceSnapshot(ctx, "user:u1")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if string(payload) != `{"transfers":[]}` || computedAt.IsZero() {
		t.Fatalf("snapshot = %s at %v", payload, computedAt)
	}

	keys, err = repo.ListStaleSnapshotKeys(ctx, 10)
	if err != nil {
		t.Fatalf("list stale after save: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("snapshot still stale after save: %v", keys)
	}
}
