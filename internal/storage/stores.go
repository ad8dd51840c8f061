package storage

import (
	"context"
	"fmt"

	"github.com/movalsociety/ledger/internal/config"
	"github.com/movalsociety/ledger/internal/logx"
)

// PebbleStore holds all Pebble-backed stores sharing one database
type PebbleStore struct {
	*BlockStore
	*PebbleTxStore

	DB   *PebbleDB
	Meta *MetaStore
}

// NewPebbleStore opens (or creates) a ledger database at path
func NewPebbleStore(path string, cacheSize int64) (*PebbleStore, error) {
	db, err := NewPebbleDB(path, cacheSize)
	if err != nil {
		return nil, err
	}

	meta := NewMetaStore(db)
	recorded, err := meta.GetSchemaVersion()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	if err := checkSchemaVersion(recorded); err != nil {
		db.Close()
		return nil, err
	}
	if recorded == "" {
		if err := meta.SetSchemaVersion(SchemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to write schema version: %w", err)
		}
	}

	return &PebbleStore{
		BlockStore:    NewBlockStore(db, meta),
		PebbleTxStore: NewPebbleTxStore(db),
		DB:            db,
		Meta:          meta,
	}, nil
}

// Close flushes memtables and closes the database
func (ps *PebbleStore) Close() error {
	if err := ps.DB.Flush(); err != nil {
		logx.Warn("STORAGE", "Failed to flush Pebble before close: ", err)
	}
	return ps.DB.Close()
}

// Open creates the Store selected by the storage configuration
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendPebble:
		logx.Info("STORAGE", "Opening Pebble database at ", cfg.Pebble.Path)
		return NewPebbleStore(cfg.Pebble.Path, cfg.Pebble.CacheSizeMB<<20)
	case config.BackendPostgres:
		logx.Info("STORAGE", "Connecting to PostgreSQL")
		return NewPostgresStore(ctx, cfg.Postgres.DSN, cfg.Postgres.ConnectRetries)
	case config.BackendMemory:
		logx.Warn("STORAGE", "Using in-memory store, the chain will not survive a restart")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Backend)
	}
}
