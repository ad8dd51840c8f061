package storage

import (
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

// Key prefixes (simulating column families)
const (
	PrefixBlocks      = "blk:"
	PrefixBlocksBySeq = "seq:"
	PrefixTxs         = "txn:"
	PrefixUnchained   = "unc:"
	PrefixTxBlocks    = "txb:"
	PrefixMeta        = "met:"
)

// Column family names
const (
	CFBlocks      = "blocks"
	CFBlocksBySeq = "blocks_by_sequence"
	CFTxs         = "transactions"
	CFUnchained   = "unchained_transactions"
	CFTxBlocks    = "transaction_blocks"
	CFMeta        = "meta"
)

// Column family name to prefix mapping
var cfPrefixes = map[string]string{
	CFBlocks:      PrefixBlocks,
	CFBlocksBySeq: PrefixBlocksBySeq,
	CFTxs:         PrefixTxs,
	CFUnchained:   PrefixUnchained,
	CFTxBlocks:    PrefixTxBlocks,
	CFMeta:        PrefixMeta,
}

// PebbleDB wraps the Pebble database
type PebbleDB struct {
	db *pebble.DB
}

// WriteBatch wraps Pebble's batch for atomic writes
type WriteBatch struct {
	batch *pebble.Batch
	db    *PebbleDB
}

// Iterator wraps Pebble's iterator
type Iterator struct {
	iter    *pebble.Iterator
	reverse bool
}

// NewPebbleDB creates a new PebbleDB instance
func NewPebbleDB(path string, cacheSize int64) (*PebbleDB, error) {
	// Ensure directory exists
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	cache := pebble.NewCache(cacheSize)
	defer cache.Unref()
	opts := &pebble.Options{
		Cache:        cache,
		MaxOpenFiles: 500,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &PebbleDB{db: db}, nil
}

// Close closes the database
func (p *PebbleDB) Close() error {
	return p.db.Close()
}

// Flush forces memtables to disk
func (p *PebbleDB) Flush() error {
	return p.db.Flush()
}

// prefixKey creates a prefixed key for the given column family
func (p *PebbleDB) prefixKey(cf string, key []byte) ([]byte, error) {
	prefix, ok := cfPrefixes[cf]
	if !ok {
		return nil, fmt.Errorf("column family not found: %s", cf)
	}
	return append([]byte(prefix), key...), nil
}

// Put stores a key-value pair in the specified column family
func (p *PebbleDB) Put(cf string, key, value []byte) error {
	prefixedKey, err := p.prefixKey(cf, key)
	if err != nil {
		return err
	}
	return p.db.Set(prefixedKey, value, pebble.Sync)
}

// Get retrieves a value from the specified column family
func (p *PebbleDB) Get(cf string, key []byte) ([]byte, error) {
	prefixedKey, err := p.prefixKey(cf, key)
	if err != nil {
		return nil, err
	}

	value, closer, err := p.db.Get(prefixedKey)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	defer closer.Close()

	// Copy the value since it's only valid until closer.Close()
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// NewBatch creates a new write batch
func (p *PebbleDB) NewBatch() *WriteBatch {
	return &WriteBatch{
		batch: p.db.NewBatch(),
		db:    p,
	}
}

// WriteBatch writes a batch to the database
func (p *PebbleDB) WriteBatch(batch *WriteBatch) error {
	return batch.batch.Commit(pebble.Sync)
}

// PutBatch adds a put operation to the batch
func (p *PebbleDB) PutBatch(batch *WriteBatch, cf string, key, value []byte) error {
	prefixedKey, err := p.prefixKey(cf, key)
	if err != nil {
		return err
	}
	return batch.batch.Set(prefixedKey, value, nil)
}

// DeleteBatch adds a delete operation to the batch
func (p *PebbleDB) DeleteBatch(batch *WriteBatch, cf string, key []byte) error {
	prefixedKey, err := p.prefixKey(cf, key)
	if err != nil {
		return err
	}
	return batch.batch.Delete(prefixedKey, nil)
}

// Destroy closes the batch and releases resources
func (b *WriteBatch) Destroy() {
	b.batch.Close()
}

// NewIterator creates a forward iterator over a column family
func (p *PebbleDB) NewIterator(cf string) (*Iterator, error) {
	return p.newIterator(cf, false)
}

// NewReverseIterator creates an iterator that walks a column family from
// its last key to its first
func (p *PebbleDB) NewReverseIterator(cf string) (*Iterator, error) {
	return p.newIterator(cf, true)
}

func (p *PebbleDB) newIterator(cf string, reverse bool) (*Iterator, error) {
	cfPrefix, ok := cfPrefixes[cf]
	if !ok {
		return nil, fmt.Errorf("column family not found: %s", cf)
	}

	prefix := []byte(cfPrefix)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}

	if reverse {
		iter.Last()
	} else {
		iter.First()
	}
	return &Iterator{iter: iter, reverse: reverse}, nil
}

// prefixUpperBound returns the upper bound for prefix iteration
func prefixUpperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

// Iterator methods

// Valid returns true if the iterator is positioned at a valid key
func (i *Iterator) Valid() bool {
	return i.iter.Valid()
}

// Next advances the iterator in its direction
func (i *Iterator) Next() bool {
	if i.reverse {
		return i.iter.Prev()
	}
	return i.iter.Next()
}

// Value returns the current value. It is only valid until the next move.
func (i *Iterator) Value() []byte {
	return i.iter.Value()
}

// Close closes the iterator
func (i *Iterator) Close() error {
	return i.iter.Close()
}
