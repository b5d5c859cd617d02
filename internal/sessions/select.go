package sessions

import (
	"bufio"
	"context"
	"os"
	"strings"
)

// OpenConfig configures Open's backend selection.
type OpenConfig struct {
	// Path is the session file path, used directly for jsonl/sqlite; for
	// postgres it is used only to look for a legacy .jsonl file to import.
	Path string
	// EnvBackend mirrors the session_backend env var: "auto", "jsonl",
	// "sqlite", or "postgres". Empty is treated as "auto".
	EnvBackend string
	// PostgresDSN is required when the resolved backend is postgres.
	PostgresDSN string
	Lock        LockConfig
}

// Open selects a session store backend per spec.md §4.3's precedence:
// explicit env override, then path extension (.sqlite/.db -> sqlite,
// .jsonl -> line-delimited), then a file-magic sniff of an existing file,
// then the line-delimited default. When the resolved backend is sqlite or
// postgres and a sibling line-delimited file already exists, entries are
// imported into the SQL table once, if the table is still empty.
func Open(ctx context.Context, cfg OpenConfig) (Store, error) {
	kind := resolveBackend(cfg)

	switch kind {
	case BackendPostgres:
		sqlStore, err := OpenSQL(ctx, "postgres", cfg.PostgresDSN, "", cfg.Lock)
		if err != nil {
			return nil, err
		}
		if legacy, ok := existingJSONL(cfg.Path); ok {
			if err := sqlStore.ImportFromJSONL(ctx, legacy); err != nil {
				sqlStore.Close()
				return nil, err
			}
		}
		return sqlStore, nil

	case BackendSQLite:
		sqlStore, err := OpenSQL(ctx, "sqlite", cfg.Path, cfg.Path, cfg.Lock)
		if err != nil {
			return nil, err
		}
		if legacy, ok := existingJSONL(cfg.Path); ok {
			if err := sqlStore.ImportFromJSONL(ctx, legacy); err != nil {
				sqlStore.Close()
				return nil, err
			}
		}
		return sqlStore, nil

	default:
		return NewJSONLStore(cfg.Path, cfg.Lock), nil
	}
}

func existingJSONL(path string) (*JSONLStore, bool) {
	legacyPath := strings.TrimSuffix(path, ".sqlite")
	legacyPath = strings.TrimSuffix(legacyPath, ".db")
	if legacyPath == path {
		return nil, false
	}
	legacyPath += ".jsonl"
	if _, err := os.Stat(legacyPath); err != nil {
		return nil, false
	}
	return NewJSONLStore(legacyPath, DefaultLockConfig()), true
}

func resolveBackend(cfg OpenConfig) BackendKind {
	switch BackendKind(strings.ToLower(cfg.EnvBackend)) {
	case BackendJSONL, BackendSQLite, BackendPostgres:
		return BackendKind(strings.ToLower(cfg.EnvBackend))
	}

	switch {
	case strings.HasSuffix(cfg.Path, ".sqlite"), strings.HasSuffix(cfg.Path, ".db"):
		return BackendSQLite
	case strings.HasSuffix(cfg.Path, ".jsonl"):
		return BackendJSONL
	}

	if kind, ok := sniffFileMagic(cfg.Path); ok {
		return kind
	}
	return BackendJSONL
}

// sniffFileMagic inspects an existing file's first bytes: the SQLite file
// format begins with the literal magic string "SQLite format 3\000"; a
// line-delimited session file is recognized when its first line, with
// surrounding whitespace trimmed, starts with '{'.
func sniffFileMagic(path string) (BackendKind, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	const sqliteMagic = "SQLite format 3\x00"
	buf := make([]byte, len(sqliteMagic))
	n, _ := f.Read(buf)
	if n == len(sqliteMagic) && string(buf) == sqliteMagic {
		return BackendSQLite, true
	}

	f.Seek(0, 0)
	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "{") {
			return BackendJSONL, true
		}
	}
	return "", false
}
