// Package names resolves participant ids to display names, including friends
// that were deleted after appearing in expenses.
package names

import (
	"context"
	"errors"
	"fmt"

	"conti/internal/core"
)

type deletedNameStore interface {
	GetDeletedFriendName(ctx context.Context, friendID string) (string, error)
}

// Resolver maps participant ids to names. Current friends resolve from the
// roster, deleted friends from the recorded-name side table, and unknown ids
// degrade to the id itself rather than failing the render.
type Resolver struct {
	currentUserID string
	roster        map[string]string
	deleted       deletedNameStore
}

func NewResolver(currentUserID string, friends []core.Friend, deleted deletedNameStore) *Resolver {
	roster := make(map[string]string, len(friends))
	for _, f := range friends {
		roster[f.ID] = f.Name
	}
	return &Resolver{currentUserID: currentUserID, roster: roster, deleted: deleted}
}

// DisplayName returns the label shown for a participant id.
func (r *Resolver) DisplayName(ctx context.Context, id string) string {
	if id == r.currentUserID {
		return "You"
	}
	if name, ok := r.roster[id]; ok {
		return name
	}
	if r.deleted != nil {
		name, err := r.deleted.GetDeletedFriendName(ctx, id)
		if err == nil && name != "" {
			return fmt.Sprintf("%s (deleted)", name)
		}
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return fmt.Sprintf("%s (deleted)", id)
		}
	}
	return fmt.Sprintf("%s (deleted)", id)
}
