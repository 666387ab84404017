package services

import (
	"context"
	"errors"
	"testing"

	"conti/internal/amqp"
	"conti/internal/core"
)

// fakeStore is an in-memory stand-in for the SQLite repository, enough to
// drive the services without a database.
type fakeStore struct {
	expenses  map[string]core.Expense
	friends   map[string]core.Friend
	groups    map[string]core.Group
	deleted   map[string]string
	staleKeys []string
	removed   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		expenses: make(map[string]core.Expense),
		friends:  make(map[string]core.Friend),
		groups:   make(map[string]core.Group),
		deleted:  make(map[string]string),
	}
}

func (s *fakeStore) CreateExpense(_ context.Context, e core.Expense) error {
	s.expenses[e.ID] = e
	return nil
}

func (s *fakeStore) UpdateExpense(_ context.Context, e core.Expense) error {
	if _, ok := s.expenses[e.ID]; !ok {
		return core.ErrNotFound
	}
	s.expenses[e.ID] = e
	return nil
}

func (s *fakeStore) GetExpense(_ context.Context, id string) (core.Expense, error) {
	e, ok := s.expenses[id]
	if !ok {
		return core.Expense{}, core.ErrNotFound
	}
	return e, nil
}

func (s *fakeStore) ListExpensesByUser(_ context.Context, userID string) ([]core.Expense, error) {
	var out []core.Expense
	for _, e := range s.expenses {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) ListExpensesByGroup(_ context.Context, groupID string) ([]core.Expense, error) {
	var out []core.Expense
	for _, e := range s.expenses {
		if e.GroupID == groupID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) SoftDeleteExpense(_ context.Context, id string) error {
	if _, ok := s.expenses[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.expenses, id)
	return nil
}

func (s *fakeStore) MarkSnapshotStale(_ context.Context, scopeKey string) error {
	s.staleKeys = append(s.staleKeys, scopeKey)
	return nil
}

func (s *fakeStore) CreateFriend(_ context.Context, f core.Friend) error {
	s.friends[f.ID] = f
	return nil
}

func (s *fakeStore) GetFriend(_ context.Context, id string) (core.Friend, error) {
	f, ok := s.friends[id]
	if !ok {
		return core.Friend{}, core.ErrNotFound
	}
	return f, nil
}

func (s *fakeStore) ListFriends(_ context.Context, userID string) ([]core.Friend, error) {
	var out []core.Friend
	for _, f := range s.friends {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeStore) RecordDeletedFriendName(_ context.Context, friendID, name string) error {
	s.deleted[friendID] = name
	return nil
}

func (s *fakeStore) RemoveFriendEverywhere(_ context.Context, _, friendID string) error {
	if _, ok := s.friends[friendID]; !ok {
		return core.ErrNotFound
	}
	delete(s.friends, friendID)
	s.removed = append(s.removed, friendID)
	return nil
}

func (s *fakeStore) GetGroup(_ context.Context, id string) (core.Group, error) {
	g, ok := s.groups[id]
	if !ok {
		return core.Group{}, core.ErrNotFound
	}
	return g, nil
}

type fakePublisher struct {
	events []*amqp.ExpenseEvent
	err    error
}

func (p *fakePublisher) PublishExpenseEvent(_ context.Context, event *amqp.ExpenseEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func TestExpenseService_CreateExpense(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := NewExpenseService(store, pub)
	ctx := context.Background()

	e := core.Expense{
		UserID:      "u1",
		Description: "Groceries",
		Amount:      core.Money{Cents: 10001},
		Split:       core.SplitEqual,
	}
	created, err := svc.CreateExpense(ctx, e, []string{"u1", "f1", "f2"})
	if err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}
	if created.ID == "" {
		t.Error("CreateExpense() should assign an ID")
	}
	if len(created.Contributions) != 3 {
		t.Fatalf("got %d contributions, want 3", len(created.Contributions))
	}

	var sum int64
	for _, c := range created.Contributions {
		sum += c.Amount.Cents
	}
	if sum != 10001 {
		t.Errorf("contributions sum to %d, want 10001", sum)
	}
	// 10001/3 rounds to 3334 per head; the first share absorbs the -1 leftover.
	if created.Contributions[0].Amount.Cents != 3333 {
		t.Errorf("first share = %d, want 3333", created.Contributions[0].Amount.Cents)
	}

	if len(pub.events) != 1 || pub.events[0].Kind != amqp.EventExpenseChanged {
		t.Errorf("published events = %+v, want one expense.changed", pub.events)
	}
	if len(store.staleKeys) != 1 || store.staleKeys[0] != "user:u1" {
		t.Errorf("stale keys = %v, want [user:u1]", store.staleKeys)
	}
}

func TestExpenseService_CreateExpense_Invalid(t *testing.T) {
	svc := NewExpenseService(newFakeStore(), nil)

	_, err := svc.CreateExpense(context.Background(), core.Expense{
		UserID: "u1", Description: "", Amount: core.Money{Cents: 100},
	}, nil)
	if !errors.Is(err, core.ErrEmptyDescription) {
		t.Fatalf("expected ErrEmptyDescription, got %v", err)
	}
}

func TestExpenseService_UpdateExpenseAmount(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := NewExpenseService(store, pub)
	ctx := context.Background()

	store.expenses["e1"] = core.Expense{
		ID: "e1", UserID: "u1", GroupID: "g1", PaidBy: "u1", Description: "Rent",
		Amount: core.Money{Cents: 10000},
		Split:  core.SplitCustom,
		Contributions: []core.Contribution{
			{FriendID: "f1", Amount: core.Money{Cents: 6000}},
			{FriendID: "f2", Amount: core.Money{Cents: 4000}},
		},
	}

	updated, err := svc.UpdateExpenseAmount(ctx, "e1", core.Money{Cents: 15000})
	if err != nil {
		t.Fatalf("UpdateExpenseAmount() error = %v", err)
	}
	if updated.Contributions[0].Amount.Cents != 9000 || updated.Contributions[1].Amount.Cents != 6000 {
		t.Errorf("rescaled contributions = %+v", updated.Contributions)
	}
	if store.expenses["e1"].Amount.Cents != 15000 {
		t.Error("new amount not persisted")
	}
	// Both the user and the group scope must be refreshed.
	if len(store.staleKeys) != 2 {
		t.Errorf("stale keys = %v, want user and group scopes", store.staleKeys)
	}
}

func TestExpenseService_DeleteExpense(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := NewExpenseService(store, pub)
	ctx := context.Background()

	store.expenses["e1"] = core.Expense{ID: "e1", UserID: "u1", Description: "Coffee", Amount: core.Money{Cents: 300}}

	if err := svc.DeleteExpense(ctx, "e1"); err != nil {
		t.Fatalf("DeleteExpense() error = %v", err)
	}
	if _, err := svc.GetExpense(ctx, "e1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expense still readable after delete: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].Kind != amqp.EventExpenseDeleted {
		t.Errorf("published events = %+v, want one expense.deleted", pub.events)
	}
}

func TestExpenseService_PublishFailureDoesNotFailWrite(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := NewExpenseService(store, pub)

	_, err := svc.CreateExpense(context.Background(), core.Expense{
		UserID: "u1", PaidBy: "u1", Description: "Taxi", Amount: core.Money{Cents: 900},
	}, []string{"u1"})
	if err != nil {
		t.Fatalf("CreateExpense() should survive a broker outage, got %v", err)
	}
}

func TestBalanceService_SettleUp(t *testing.T) {
	store := newFakeStore()
	svc := NewBalanceService(store)
	ctx := context.Background()

	store.friends["f1"] = core.Friend{ID: "f1", UserID: "u1", Name: "Bea"}
	store.friends["f2"] = core.Friend{ID: "f2", UserID: "u1", Name: "Carlo"}
	store.expenses["e1"] = core.Expense{
		ID: "e1", UserID: "u1", PaidBy: "u1", Description: "Dinner",
		Amount: core.Money{Cents: 3000},
		Contributions: []core.Contribution{
			{FriendID: "f1", Amount: core.Money{Cents: 3000}},
		},
	}
	store.expenses["e2"] = core.Expense{
		ID: "e2", UserID: "u1", PaidBy: "f2", Description: "Taxi",
		Amount: core.Money{Cents: 2000},
		Contributions: []core.Contribution{
			{FriendID: "u1", Amount: core.Money{Cents: 2000}},
		},
	}

	settlement, err := svc.SettleUp(ctx, "u1")
	if err != nil {
		t.Fatalf("SettleUp() error = %v", err)
	}
	if settlement.Sheet.TotalOwedToMe().Cents != 3000 {
		t.Errorf("owed to me = %d, want 3000", settlement.Sheet.TotalOwedToMe().Cents)
	}
	if settlement.Sheet.TotalOwedByMe().Cents != 2000 {
		t.Errorf("owed by me = %d, want 2000", settlement.Sheet.TotalOwedByMe().Cents)
	}
	// Net positions: f1 +3000, f2 -2000, u1 zero. The simplification routes
	// f2's debt straight to f1, skipping the middle hop through u1.
	if len(settlement.Transfers) != 1 {
		t.Fatalf("got %d transfers, want 1", len(settlement.Transfers))
	}
	tr := settlement.Transfers[0]
	if tr.From != "f2" || tr.To != "f1" || tr.Amount.Cents != 2000 {
		t.Errorf("transfer = %+v", tr)
	}
}

func TestBalanceService_GroupSettleUp(t *testing.T) {
	store := newFakeStore()
	svc := NewBalanceService(store)
	ctx := context.Background()

	store.groups["g1"] = core.Group{ID: "g1", UserID: "u1", Name: "Trip", MemberIDs: []string{"f1", "f2"}}
	store.expenses["e1"] = core.Expense{
		ID: "e1", UserID: "u1", GroupID: "g1", PaidBy: "u1", Description: "Hotel",
		Amount: core.Money{Cents: 4000},
		Contributions: []core.Contribution{
			{FriendID: "f1", Amount: core.Money{Cents: 4000}},
		},
	}
	store.expenses["e2"] = core.Expense{
		ID: "e2", UserID: "u1", GroupID: "g1", PaidBy: "f2", Description: "Fuel",
		Amount: core.Money{Cents: 1500},
		Contributions: []core.Contribution{
			{FriendID: "u1", Amount: core.Money{Cents: 1500}},
		},
	}

	settlement, err := svc.GroupSettleUp(ctx, "u1", "g1")
	if err != nil {
		t.Fatalf("GroupSettleUp() error = %v", err)
	}
	if got := settlement.Sheet.OwedByMe["f2"].Cents; got != 1500 {
		t.Errorf("owed by me to f2 = %d, want 1500", got)
	}
	if len(settlement.Transfers) != 1 {
		t.Fatalf("got %d transfers, want 1", len(settlement.Transfers))
	}
	if settlement.Transfers[0].From != "f2" || settlement.Transfers[0].To != "f1" || settlement.Transfers[0].Amount.Cents != 1500 {
		t.Errorf("transfer = %+v", settlement.Transfers[0])
	}

	if _, err := svc.GroupSettleUp(ctx, "u1", "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing group, got %v", err)
	}
}

func TestFriendService_AddFriend(t *testing.T) {
	store := newFakeStore()
	svc := NewFriendService(store, nil)
	ctx := context.Background()

	f, err := svc.AddFriend(ctx, "u1", "Bea")
	if err != nil {
		t.Fatalf("AddFriend() error = %v", err)
	}
	if f.ID == "" || f.UserID != "u1" || f.Name != "Bea" {
		t.Errorf("friend = %+v", f)
	}

	if _, err := svc.AddFriend(ctx, "u1", ""); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}

func TestFriendService_RemoveFriend(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := NewFriendService(store, pub)
	ctx := context.Background()

	store.friends["f1"] = core.Friend{ID: "f1", UserID: "u1", Name: "Bea"}

	if err := svc.RemoveFriend(ctx, "u1", "f1"); err != nil {
		t.Fatalf("RemoveFriend() error = %v", err)
	}
	if store.deleted["f1"] != "Bea" {
		t.Errorf("deleted name record = %q, want Bea", store.deleted["f1"])
	}
	if len(store.removed) != 1 || store.removed[0] != "f1" {
		t.Errorf("removed = %v, want [f1]", store.removed)
	}
	if len(pub.events) != 1 || pub.events[0].Kind != amqp.EventFriendRemoved {
		t.Errorf("published events = %+v, want one friend.removed", pub.events)
	}

	if err := svc.RemoveFriend(ctx, "u1", "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
