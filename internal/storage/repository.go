// Package storage persists users, friends, groups and expenses in SQLite.
// The balance engine never touches this package; callers fetch records here
// and hand plain core values to the engine.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"conti/internal/core"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- users ---

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (core.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE id = ?`, id))
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?`, email))
}

func (r *SQLiteRepository) scanUser(row *sql.Row) (core.User, error) {
	var u core.User
	var createdAt string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

// --- friends ---

func (r *SQLiteRepository) CreateFriend(ctx context.Context, f core.Friend) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO friends (id, user_id, name, email, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.Name, f.Email, formatTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("create friend: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetFriend(ctx context.Context, id string) (core.Friend, error) {
	var f core.Friend
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, email, created_at FROM friends WHERE id = ?`, id).
		Scan(&f.ID, &f.UserID, &f.Name, &f.Email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Friend{}, core.ErrNotFound
	}
	if err != nil {
		return core.Friend{}, fmt.Errorf("get friend: %w", err)
	}
	f.CreatedAt = parseTime(createdAt)
	return f, nil
}

func (r *SQLiteRepository) ListFriends(ctx context.Context, userID string) ([]core.Friend, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, email, created_at FROM friends WHERE user_id = ? ORDER BY created_at, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	defer rows.Close()

	var friends []core.Friend
	for rows.Next() {
		var f core.Friend
		var createdAt string
		if err := rows.Scan(&f.ID, &f.UserID, &f.Name, &f.Email, &createdAt); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		f.CreatedAt = parseTime(createdAt)
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

// RecordDeletedFriendName remembers the display name of a removed friend so
// old expenses can still show who was involved.
func (r *SQLiteRepository) RecordDeletedFriendName(ctx context.Context, friendID, name string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO deleted_friend_names (friend_id, name, deleted_at) VALUES (?, ?, ?)
		 ON CONFLICT(friend_id) DO UPDATE SET name = excluded.name, deleted_at = excluded.deleted_at`,
		friendID, name, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record deleted friend name: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetDeletedFriendName(ctx context.Context, friendID string) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx,
		`SELECT name FROM deleted_friend_names WHERE friend_id = ?`, friendID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get deleted friend name: %w", err)
	}
	return name, nil
}

// --- groups ---

func (r *SQLiteRepository) CreateGroup(ctx context.Context, g core.Group) error {
	members, err := json.Marshal(memberIDsOrEmpty(g.MemberIDs))
	if err != nil {
		return fmt.Errorf("encode member ids: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO expense_groups (id, user_id, name, member_ids, created_at) VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.UserID, g.Name, string(members), formatTime(g.CreatedAt))
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateGroup(ctx context.Context, g core.Group) error {
	members, err := json.Marshal(memberIDsOrEmpty(g.MemberIDs))
	if err != nil {
		return fmt.Errorf("encode member ids: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE expense_groups SET name = ?, member_ids = ? WHERE id = ?`,
		g.Name, string(members), g.ID)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	return requireRowAffected(res)
}

func (r *SQLiteRepository) GetGroup(ctx context.Context, id string) (core.Group, error) {
	var g core.Group
	var members, createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, member_ids, created_at FROM expense_groups WHERE id = ?`, id).
		Scan(&g.ID, &g.UserID, &g.Name, &members, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Group{}, core.ErrNotFound
	}
	if err != nil {
		return core.Group{}, fmt.Errorf("get group: %w", err)
	}
	g.MemberIDs = decodeMemberIDs(members)
	g.CreatedAt = parseTime(createdAt)
	return g, nil
}

func (r *SQLiteRepository) ListGroups(ctx context.Context, userID string) ([]core.Group, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, member_ids, created_at FROM expense_groups WHERE user_id = ? ORDER BY created_at, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []core.Group
	for rows.Next() {
		var g core.Group
		var members, createdAt string
		if err := rows.Scan(&g.ID, &g.UserID, &g.Name, &members, &createdAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.MemberIDs = decodeMemberIDs(members)
		g.CreatedAt = parseTime(createdAt)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *SQLiteRepository) DeleteGroup(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM expense_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return requireRowAffected(res)
}

func memberIDsOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func decodeMemberIDs(raw string) []string {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		// Tolerate malformed rows rather than failing the whole listing.
		return nil
	}
	return ids
}

// --- expenses ---

func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO expenses (id, user_id, group_id, paid_by, description, amount_cents, split_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.GroupID, e.PaidBy, e.Description, e.Amount.Cents, string(e.Split), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}

	if err := insertContributions(ctx, tx, e.ID, e.Contributions); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved",
		"id", e.ID,
		"description", e.Description,
		"amount_cents", e.Amount.Cents,
		"contributions", len(e.Contributions))
	return nil
}

// UpdateExpense replaces the mutable fields of an expense, contributions
// included. Contribution order is preserved via the position column.
func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.Expense) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE expenses SET group_id = ?, paid_by = ?, description = ?, amount_cents = ?, split_type = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		e.GroupID, e.PaidBy, e.Description, e.Amount.Cents, string(e.Split), e.ID)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	if err := requireRowAffected(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM contributions WHERE expense_id = ?`, e.ID); err != nil {
		return fmt.Errorf("clear contributions: %w", err)
	}
	if err := insertContributions(ctx, tx, e.ID, e.Contributions); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit expense update: %w", err)
	}
	return nil
}

func insertContributions(ctx context.Context, tx *sql.Tx, expenseID string, contribs []core.Contribution) error {
	for i, c := range contribs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO contributions (expense_id, position, friend_id, amount_cents) VALUES (?, ?, ?, ?)`,
			expenseID, i, c.FriendID, c.Amount.Cents)
		if err != nil {
			return fmt.Errorf("insert contribution %d: %w", i, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	var e core.Expense
	var split, createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, group_id, paid_by, description, amount_cents, split_type, created_at
		 FROM expenses WHERE id = ? AND deleted_at IS NULL`, id).
		Scan(&e.ID, &e.UserID, &e.GroupID, &e.PaidBy, &e.Description, &e.Amount.Cents, &split, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, core.ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	e.Split = core.SplitType(split)
	e.CreatedAt = parseTime(createdAt)

	e.Contributions, err = r.loadContributions(ctx, e.ID)
	if err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

func (r *SQLiteRepository) ListExpensesByUser(ctx context.Context, userID string) ([]core.Expense, error) {
	return r.listExpenses(ctx,
		`SELECT id, user_id, group_id, paid_by, description, amount_cents, split_type, created_at
		 FROM expenses WHERE user_id = ? AND deleted_at IS NULL ORDER BY created_at, id`, userID)
}

func (r *SQLiteRepository) ListExpensesByGroup(ctx context.Context, groupID string) ([]core.Expense, error) {
	return r.listExpenses(ctx,
		`SELECT id, user_id, group_id, paid_by, description, amount_cents, split_type, created_at
		 FROM expenses WHERE group_id = ? AND deleted_at IS NULL ORDER BY created_at, id`, groupID)
}

func (r *SQLiteRepository) listExpenses(ctx context.Context, query string, arg string) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		var e core.Expense
		var split, createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.GroupID, &e.PaidBy, &e.Description,
			&e.Amount.Cents, &split, &createdAt); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		e.Split = core.SplitType(split)
		e.CreatedAt = parseTime(createdAt)
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range expenses {
		expenses[i].Contributions, err = r.loadContributions(ctx, expenses[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return expenses, nil
}

func (r *SQLiteRepository) loadContributions(ctx context.Context, expenseID string) ([]core.Contribution, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT friend_id, amount_cents FROM contributions WHERE expense_id = ? ORDER BY position`,
		expenseID)
	if err != nil {
		return nil, fmt.Errorf("load contributions: %w", err)
	}
	defer rows.Close()

	var contribs []core.Contribution
	for rows.Next() {
		var c core.Contribution
		if err := rows.Scan(&c.FriendID, &c.Amount.Cents); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		contribs = append(contribs, c)
	}
	return contribs, rows.Err()
}

func (r *SQLiteRepository) SoftDeleteExpense(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("soft delete expense: %w", err)
	}
	return requireRowAffected(res)
}

// RemoveFriendEverywhere applies the friend-removal patch in one transaction:
// the friend leaves every group member list, their contributions disappear
// from the owner's expenses, and expenses they paid are reassigned to the
// removing user. The friend row itself is deleted last.
func (r *SQLiteRepository) RemoveFriendEverywhere(ctx context.Context, userID, friendID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Groups: filter the member list in Go, member_ids is a JSON column.
	rows, err := tx.QueryContext(ctx,
		`SELECT id, member_ids FROM expense_groups WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("list groups for removal: %w", err)
	}
	type patch struct{ id, members string }
	var patches []patch
	for rows.Next() {
		var id, members string
		if err := rows.Scan(&id, &members); err != nil {
			rows.Close()
			return fmt.Errorf("scan group for removal: %w", err)
		}
		ids := decodeMemberIDs(members)
		kept := make([]string, 0, len(ids))
		removed := false
		for _, m := range ids {
			if m == friendID {
				removed = true
				continue
			}
			kept = append(kept, m)
		}
		if removed {
			encoded, err := json.Marshal(kept)
			if err != nil {
				rows.Close()
				return fmt.Errorf("encode member ids: %w", err)
			}
			patches = append(patches, patch{id: id, members: string(encoded)})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate groups for removal: %w", err)
	}
	for _, p := range patches {
		if _, err := tx.ExecContext(ctx,
			`UPDATE expense_groups SET member_ids = ? WHERE id = ?`, p.members, p.id); err != nil {
			return fmt.Errorf("patch group %s: %w", p.id, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM contributions WHERE friend_id = ?
		 AND expense_id IN (SELECT id FROM expenses WHERE user_id = ?)`,
		friendID, userID); err != nil {
		return fmt.Errorf("drop contributions: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE expenses SET paid_by = ? WHERE user_id = ? AND paid_by = ?`,
		userID, userID, friendID); err != nil {
		return fmt.Errorf("reassign payer: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM friends WHERE id = ? AND user_id = ?`, friendID, userID); err != nil {
		return fmt.Errorf("delete friend: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit friend removal: %w", err)
	}

	slog.InfoContext(ctx, "Friend removed and expenses patched",
		"friend_id", friendID,
		"user_id", userID,
		"groups_patched", len(patches))
	return nil
}

// --- balance snapshots ---

func (r *SQLiteRepository) SaveBalanceSnapshot(ctx context.Context, scopeKey string, payload []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO balance_snapshots (scope_key, payload, stale, computed_at) VALUES (?, ?, 0, ?)
		 ON CONFLICT(scope_key) DO UPDATE SET payload = excluded.payload, stale = 0, computed_at = excluded.computed_at`,
		scopeKey, string(payload), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save balance snapshot: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetBalanceSnapshot(ctx context.Context, scopeKey string) ([]byte, time.Time, error) {
	var payload, computedAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT payload, computed_at FROM balance_snapshots WHERE scope_key = ?`, scopeKey).
		Scan(&payload, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, core.ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("get balance snapshot: %w", err)
	}
	return []byte(payload), parseTime(computedAt), nil
}

// MarkSnapshotStale flags a scope for recomputation. Missing rows are created
// so the periodic refresh picks up scopes that were never computed.
func (r *SQLiteRepository) MarkSnapshotStale(ctx context.Context, scopeKey string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO balance_snapshots (scope_key, payload, stale, computed_at) VALUES (?, '', 1, ?)
		 ON CONFLICT(scope_key) DO UPDATE SET stale = 1`,
		scopeKey, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("mark snapshot stale: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListStaleSnapshotKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT scope_key FROM balance_snapshots WHERE stale = 1 ORDER BY computed_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale snapshots: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan snapshot key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}
