package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

func NewStore(kind, path string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if path == "" {
			return nil, errors.New("sqlite path is required")
		}
		return NewSQLiteStore(path), nil
	case "csv":
		if path == "" {
			return nil, errors.New("csv path is required")
		}
		return NewCSVStore(path), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

// KindForPath infers the backend from a datafile extension. Unknown
// extensions map to sqlite.
func KindForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv"
	case "":
		if path == "" {
			return "memory"
		}
		return "sqlite"
	default:
		return "sqlite"
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
