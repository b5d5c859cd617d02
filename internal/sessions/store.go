// Package sessions implements the append-only branching session store
// described in spec.md §4.3: a DAG of message entries addressed by a
// monotonically increasing id, with a line-delimited JSON file backend and
// an alternative SQL backend, guarded by a cross-process advisory lock.
package sessions

import (
	"context"
	"errors"
	"strconv"

	"github.com/tauagent/tau/internal/models"
)

// ErrSessionNotInitialized is returned by operations that require
// EnsureInitialized to have run first.
var ErrSessionNotInitialized = errors.New("sessions: store has no entries; call EnsureInitialized first")

// LockContested is returned when a cross-process advisory lock could not be
// acquired within its configured wait window.
type LockContested struct {
	Path string
}

func (e *LockContested) Error() string {
	return "sessions: lock contested for " + e.Path
}

// Store is the branching session store contract from spec.md §4.3.
type Store interface {
	// EnsureInitialized creates the store's backing file/table and, if it
	// is empty, appends a single system-role entry with no parent. It is a
	// no-op if the store already has entries.
	EnsureInitialized(ctx context.Context, systemPrompt string) error

	// HeadID returns the id of the most recently appended entry, or false
	// if the store has no entries yet.
	HeadID(ctx context.Context) (id uint64, ok bool)

	// Entries returns every entry in the store, in ascending id order.
	Entries(ctx context.Context) ([]models.SessionEntry, error)

	// LineageMessages walks parent_id pointers from id back to the root and
	// returns the messages in root-to-id order.
	LineageMessages(ctx context.Context, id uint64) ([]models.Message, error)

	// AppendMessages appends one or more messages as new entries chained
	// from parentID (the first new entry's parent; subsequent new entries
	// chain to the previous new entry), and returns the new head id.
	AppendMessages(ctx context.Context, parentID *uint64, messages []models.Message) (newHead uint64, err error)

	// Close releases any held resources (locks, file handles, DB connections).
	Close() error
}

// BackendKind names a session store's persistence backend.
type BackendKind string

const (
	BackendAuto     BackendKind = "auto"
	BackendJSONL    BackendKind = "jsonl"
	BackendSQLite   BackendKind = "sqlite"
	BackendPostgres BackendKind = "postgres"
)

// lineage walks entries (assumed sorted ascending by id, as Entries()
// returns them) backwards from id to the root and returns messages in
// root-to-id order. Shared by every backend's LineageMessages.
func lineage(entries []models.SessionEntry, id uint64) ([]models.Message, error) {
	byID := make(map[uint64]models.SessionEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	var chain []models.Message
	cur, ok := byID[id]
	for ok {
		chain = append(chain, cur.Message)
		if cur.ParentID == nil {
			break
		}
		cur, ok = byID[*cur.ParentID]
	}
	if len(chain) == 0 {
		return nil, errors.New("sessions: no entry with id " + strconv.FormatUint(id, 10))
	}

	out := make([]models.Message, len(chain))
	for i, m := range chain {
		out[len(chain)-1-i] = m
	}
	return out, nil
}

// nextIDs computes the new entry ids for appending len(messages) entries on
// top of the given max existing id (0 if the store is empty).
func nextIDs(maxExisting uint64, count int) []uint64 {
	ids := make([]uint64, count)
	for i := range ids {
		maxExisting++
		ids[i] = maxExisting
	}
	return ids
}

// chainParents returns the parent id for each new entry: the first chains
// to parentID (nil for a root entry), subsequent ones chain to the
// previous new id.
func chainParents(parentID *uint64, newIDs []uint64) []*uint64 {
	parents := make([]*uint64, len(newIDs))
	for i, id := range newIDs {
		if i == 0 {
			parents[i] = parentID
			continue
		}
		prev := newIDs[i-1]
		parents[i] = &prev
	}
	return parents
}
