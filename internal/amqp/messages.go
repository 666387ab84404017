package amqp

import (
	"encoding/json"
	"time"
)

const (
	EventExpenseChanged = "expense.changed"
	EventExpenseDeleted = "expense.deleted"
	EventFriendRemoved  = "friend.removed"
)

// ExpenseEvent is the message published whenever recorded expenses change.
// It carries identifiers only; consumers fetch current state from the
// database, so a stale or duplicated event is harmless.
type ExpenseEvent struct {
	Kind      string    `json:"kind"`
	ExpenseID string    `json:"expenseId,omitempty"`
	UserID    string    `json:"userId"`
	GroupID   string    `json:"groupId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewExpenseEvent(kind, expenseID, userID, groupID string) *ExpenseEvent {
	return &ExpenseEvent{
		Kind:      kind,
		ExpenseID: expenseID,
		UserID:    userID,
		GroupID:   groupID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (m *ExpenseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseEventFromJSON creates an event from JSON bytes
func ExpenseEventFromJSON(data []byte) (*ExpenseEvent, error) {
	var msg ExpenseEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
