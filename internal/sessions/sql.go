package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tauagent/tau/internal/models"
)

// SQLStore is the alternative SQL backend from spec.md §4.3:
// session_entries(id PRIMARY KEY, parent_id NULLABLE, message_json TEXT),
// indexed on parent_id. Works against either modernc.org/sqlite or
// lib/pq, selected by the driver name passed to OpenSQL.
type SQLStore struct {
	db     *sql.DB
	driver string
	lock   *fileLock // nil for postgres: the database itself serializes writers
}

// ph returns the driver-appropriate positional placeholder: "$n" for
// postgres, "?" for sqlite.
func (s *SQLStore) ph(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) insertSQL() string {
	return fmt.Sprintf(`INSERT INTO session_entries (id, parent_id, message_json) VALUES (%s, %s, %s)`, s.ph(1), s.ph(2), s.ph(3))
}

// OpenSQL opens (and, if needed, creates) the session_entries table using
// driverName ("sqlite" or "postgres") and dsn. lockPath, when non-empty,
// guards the sqlite file with the same cross-process advisory lock as the
// JSONL backend (sqlite has no built-in cross-process writer queueing);
// postgres relies on its own transaction isolation instead.
func OpenSQL(ctx context.Context, driverName, dsn, lockPath string, lockCfg LockConfig) (*SQLStore, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLStore{db: db, driver: driverName}
	if driverName == "sqlite" && lockPath != "" {
		s.lock = newFileLock(lockPath, lockCfg)
	}
	if err := s.createTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTable(ctx context.Context) error {
	parentType := "INTEGER"
	if s.driver == "postgres" {
		parentType = "BIGINT"
	}
	idType := "INTEGER"
	if s.driver == "postgres" {
		idType = "BIGINT"
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS session_entries (
		id %s PRIMARY KEY,
		parent_id %s NULL,
		message_json TEXT NOT NULL
	)`, idType, parentType)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_session_entries_parent_id ON session_entries(parent_id)`)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) withLock(ctx context.Context, fn func() error) error {
	if s.lock == nil {
		return fn()
	}
	if err := s.lock.Acquire(ctx); err != nil {
		return err
	}
	defer s.lock.Release()
	return fn()
}

func (s *SQLStore) rowCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_entries`).Scan(&n)
	return n, err
}

func (s *SQLStore) EnsureInitialized(ctx context.Context, systemPrompt string) error {
	return s.withLock(ctx, func() error {
		n, err := s.rowCount(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		msg := models.NewTextMessage(models.RoleSystem, systemPrompt)
		return s.insertEntry(ctx, 1, nil, msg)
	})
}

func (s *SQLStore) insertEntry(ctx context.Context, id uint64, parentID *uint64, msg models.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.insertSQL(), id, parentID, string(body))
	return err
}

func (s *SQLStore) HeadID(ctx context.Context) (uint64, bool) {
	var id uint64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM session_entries ORDER BY id DESC LIMIT 1`).Scan(&id)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *SQLStore) Entries(ctx context.Context) ([]models.SessionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, parent_id, message_json FROM session_entries ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SessionEntry
	for rows.Next() {
		var id uint64
		var parentID sql.NullInt64
		var body string
		if err := rows.Scan(&id, &parentID, &body); err != nil {
			return nil, err
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			return nil, err
		}
		entry := models.SessionEntry{ID: id, Message: msg}
		if parentID.Valid {
			p := uint64(parentID.Int64)
			entry.ParentID = &p
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *SQLStore) LineageMessages(ctx context.Context, id uint64) ([]models.Message, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return lineage(entries, id)
}

func (s *SQLStore) AppendMessages(ctx context.Context, parentID *uint64, messages []models.Message) (uint64, error) {
	if len(messages) == 0 {
		return 0, fmt.Errorf("sessions: AppendMessages requires at least one message")
	}
	var newHead uint64
	err := s.withLock(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var maxExisting sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(id) FROM session_entries`).Scan(&maxExisting); err != nil {
			return err
		}
		var max uint64
		if maxExisting.Valid {
			max = uint64(maxExisting.Int64)
		}

		newIDs := nextIDs(max, len(messages))
		parents := chainParents(parentID, newIDs)
		for i, msg := range messages {
			body, err := json.Marshal(msg.Normalize())
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, s.insertSQL(), newIDs[i], parents[i], string(body)); err != nil {
				return err
			}
		}
		newHead = newIDs[len(newIDs)-1]
		return tx.Commit()
	})
	return newHead, err
}

// ImportFromJSONL performs the one-time legacy-to-SQL import spec.md §4.3
// describes: if the SQL table has zero rows, every entry from src is
// inserted verbatim, preserving ids and parent links.
func (s *SQLStore) ImportFromJSONL(ctx context.Context, src *JSONLStore) error {
	n, err := s.rowCount(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	entries, err := src.Entries(ctx)
	if err != nil {
		return err
	}
	return s.withLock(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for _, e := range entries {
			body, err := json.Marshal(e.Message)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, s.insertSQL(), e.ID, e.ParentID, string(body)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}
