package memory

import (
	"strings"

	"github.com/dotsetgreg/tutormem/pkg/logger"
)

// StoreType selects a persistence backend.
type StoreType string

const (
	StoreTypeSQLite StoreType = "sqlite"
	StoreTypeMemory StoreType = "memory"
)

// StoreConfig configures OpenStore. Path is the SQLite database file;
// SnapshotPath is the memory backend's optional snapshot file.
type StoreConfig struct {
	Type         StoreType `json:"type"`
	Path         string    `json:"path"`
	SnapshotPath string    `json:"snapshot_path"`
}

// OpenStore creates the backend named by cfg.Type. An empty type means sqlite.
func OpenStore(cfg StoreConfig) (Store, error) {
	switch StoreType(strings.ToLower(strings.TrimSpace(string(cfg.Type)))) {
	case StoreTypeSQLite, "":
		logger.DebugCF("memory", "Opening sqlite store", map[string]interface{}{"path": cfg.Path})
		return NewSQLiteStore(cfg.Path)
	case StoreTypeMemory:
		logger.DebugCF("memory", "Opening in-memory store", map[string]interface{}{"snapshot": cfg.SnapshotPath})
		return NewMemoryStore(cfg.SnapshotPath)
	default:
		return nil, invalid("store.type", "unknown store type %q", cfg.Type)
	}
}
