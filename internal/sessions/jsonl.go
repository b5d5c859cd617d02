package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tauagent/tau/internal/models"
)

// JSONLStore is the line-delimited-JSON file backend from spec.md §4.3: an
// optional meta record first, then one entry record per line. A legacy file
// with no meta line is accepted as long as every line parses as an entry
// record (Open Question 1, resolved in DESIGN.md: lenient by default, no
// strict-mode flag).
type JSONLStore struct {
	path string
	lock *fileLock

	mu      sync.Mutex
	entries []models.SessionEntry
	loaded  bool
}

func NewJSONLStore(path string, lockCfg LockConfig) *JSONLStore {
	return &JSONLStore{path: path, lock: newFileLock(path, lockCfg)}
}

func (s *JSONLStore) Close() error {
	return nil
}

func (s *JSONLStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *JSONLStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		s.entries = nil
		s.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	entries, err := parseJSONLEntries(f)
	if err != nil {
		return err
	}
	s.entries = entries
	s.loaded = true
	return nil
}

// parseJSONLEntries reads meta+entry records, tolerating a legacy file with
// no meta line as long as every non-empty line parses as an entry.
func parseJSONLEntries(r io.Reader) ([]models.SessionEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var entries []models.SessionEntry
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rt struct {
			RecordType models.RecordType `json:"record_type"`
		}
		if err := json.Unmarshal(line, &rt); err != nil {
			return nil, fmt.Errorf("sessions: malformed record: %w", err)
		}

		switch rt.RecordType {
		case models.RecordMeta:
			if !first {
				return nil, fmt.Errorf("sessions: meta record must be first")
			}
			var meta models.MetaRecord
			if err := json.Unmarshal(line, &meta); err != nil {
				return nil, err
			}
			if meta.SchemaVersion > models.CurrentSchemaVersion {
				return nil, fmt.Errorf("sessions: unsupported schema_version %d", meta.SchemaVersion)
			}
		case models.RecordEntry, "":
			var rec models.EntryRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return nil, fmt.Errorf("sessions: malformed entry record: %w", err)
			}
			entries = append(entries, models.SessionEntry{ID: rec.ID, ParentID: rec.ParentID, Message: rec.Message})
		default:
			return nil, fmt.Errorf("sessions: unknown record_type %q", rt.RecordType)
		}
		first = false
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *JSONLStore) EnsureInitialized(ctx context.Context, systemPrompt string) error {
	if err := s.lock.Acquire(ctx); err != nil {
		return err
	}
	defer s.lock.Release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	if len(s.entries) > 0 {
		return nil
	}

	entry := models.SessionEntry{ID: 1, ParentID: nil, Message: models.NewTextMessage(models.RoleSystem, systemPrompt)}
	s.entries = []models.SessionEntry{entry}
	return s.flushLocked()
}

func (s *JSONLStore) HeadID(ctx context.Context) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil || len(s.entries) == 0 {
		return 0, false
	}
	return s.entries[len(s.entries)-1].ID, true
}

func (s *JSONLStore) Entries(ctx context.Context) ([]models.SessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	out := make([]models.SessionEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *JSONLStore) LineageMessages(ctx context.Context, id uint64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return lineage(s.entries, id)
}

func (s *JSONLStore) AppendMessages(ctx context.Context, parentID *uint64, messages []models.Message) (uint64, error) {
	if len(messages) == 0 {
		return 0, fmt.Errorf("sessions: AppendMessages requires at least one message")
	}
	if err := s.lock.Acquire(ctx); err != nil {
		return 0, err
	}
	defer s.lock.Release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return 0, err
	}

	var maxExisting uint64
	for _, e := range s.entries {
		if e.ID > maxExisting {
			maxExisting = e.ID
		}
	}

	newIDs := nextIDs(maxExisting, len(messages))
	parents := chainParents(parentID, newIDs)
	for i, msg := range messages {
		s.entries = append(s.entries, models.SessionEntry{ID: newIDs[i], ParentID: parents[i], Message: msg.Normalize()})
	}

	if err := s.flushLocked(); err != nil {
		return 0, err
	}
	return newIDs[len(newIDs)-1], nil
}

// flushLocked atomically rewrites the full file: serialize to a sibling
// temp file, fsync, then rename over the original. Caller must hold s.mu and
// the cross-process lock.
func (s *JSONLStore) flushLocked() error {
	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	meta := models.MetaRecord{RecordType: models.RecordMeta, SchemaVersion: models.CurrentSchemaVersion}
	if err := writeJSONLine(w, meta); err != nil {
		tmp.Close()
		return err
	}
	for _, e := range s.entries {
		rec := models.EntryRecord{RecordType: models.RecordEntry, ID: e.ID, ParentID: e.ParentID, Message: e.Message}
		if err := writeJSONLine(w, rec); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

func writeJSONLine(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n"))
	return err
}
