package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"linkgate.ai/internal/config"
	"linkgate.ai/internal/persistence/indexdb"
)

// openRuntimeIndex opens the optional link index. A nil index with a nil
// error means indexing is off.
func openRuntimeIndex(cfg config.Config, logger zerolog.Logger) (*indexdb.SQLiteIndex, error) {
	if cfg.Index.Disable {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("LINKGATE_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(cfg.DataDir, "index", "links.sqlite")
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", dbPath).Msg("link index enabled")
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported LINKGATE_INDEX_BACKEND: %s", backend)
	}
}
