package docstore

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindMemory = "memory"
)

// Open returns the store of the given kind rooted at dataDir.
func Open(kind string, dataDir string) (Store, error) {
	switch kind {
	case KindFile, "":
		return NewFilesystem(dataDir)
	case KindSQLite:
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLite("file:" + filepath.Join(dataDir, "documents.db") + "?_busy_timeout=5000&_journal_mode=WAL")
	case KindMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store %q", kind)
}
