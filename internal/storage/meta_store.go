package storage

import (
	"fmt"
	"strconv"
)

var (
	metaTipKey    = []byte("tip")
	metaSchemaKey = []byte("schema_version")
)

// MetaStore handles chain bookkeeping: the tip sequence and schema version
type MetaStore struct {
	db *PebbleDB
}

// NewMetaStore creates a new MetaStore
func NewMetaStore(db *PebbleDB) *MetaStore {
	return &MetaStore{db: db}
}

// GetTipSequence retrieves the sequence of the chain tip, 0 for an empty chain
func (s *MetaStore) GetTipSequence() (int64, error) {
	data, err := s.db.Get(CFMeta, metaTipKey)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}

	seq, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse tip sequence: %w", err)
	}
	return seq, nil
}

// setTipSequenceBatch adds the tip update to batch
func (s *MetaStore) setTipSequenceBatch(batch *WriteBatch, seq int64) error {
	return s.db.PutBatch(batch, CFMeta, metaTipKey, []byte(strconv.FormatInt(seq, 10)))
}

// GetSchemaVersion returns the recorded schema version, "" for a fresh store
func (s *MetaStore) GetSchemaVersion() (string, error) {
	data, err := s.db.Get(CFMeta, metaSchemaKey)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetSchemaVersion records the schema version
func (s *MetaStore) SetSchemaVersion(version string) error {
	return s.db.Put(CFMeta, metaSchemaKey, []byte(version))
}
