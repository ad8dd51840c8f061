package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/movalsociety/ledger/internal/jsonx"
	"github.com/movalsociety/ledger/internal/models"
)

// BlockStore handles block storage operations
type BlockStore struct {
	db   *PebbleDB
	meta *MetaStore

	// appendMu serializes the tip check and the write of AppendBlock
	appendMu sync.Mutex
}

// NewBlockStore creates a new BlockStore
func NewBlockStore(db *PebbleDB, meta *MetaStore) *BlockStore {
	return &BlockStore{db: db, meta: meta}
}

// blockKey creates a key for the blocks column family
func blockKey(id string) []byte {
	return []byte(id)
}

// blockSequenceKey creates a key for the blocks_by_sequence column family.
// Zero padding keeps byte order equal to numeric order.
func blockSequenceKey(seq int64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

// AppendBlock stores the block, its sequence index and the new tip atomically
func (s *BlockStore) AppendBlock(ctx context.Context, block *models.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := jsonx.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	tip, err := s.meta.GetTipSequence()
	if err != nil {
		return unavailable("read tip", err)
	}
	if block.Sequence != tip+1 {
		return fmt.Errorf("append block %d (expected %d): %w", block.Sequence, tip+1, ErrSequenceConflict)
	}
	existing, err := s.db.Get(CFBlocks, blockKey(block.ID))
	if err != nil {
		return unavailable("read block", err)
	}
	if existing != nil {
		return fmt.Errorf("append block %d: duplicate id %s: %w", block.Sequence, block.ID, ErrSequenceConflict)
	}
	ids, err := blockTxIDs(block)
	if err != nil {
		return err
	}
	for _, id := range ids {
		seq, err := s.transactionSequence(id)
		if err != nil {
			return err
		}
		if seq > 0 {
			return fmt.Errorf("append block %d: transaction %s already in block %d: %w", block.Sequence, id, seq, ErrTransactionChained)
		}
	}

	batch := s.db.NewBatch()
	defer batch.Destroy()

	seqValue := []byte(strconv.FormatInt(block.Sequence, 10))
	for _, id := range ids {
		if err := s.db.PutBatch(batch, CFTxBlocks, txKey(id), seqValue); err != nil {
			return err
		}
	}

	if err := s.db.PutBatch(batch, CFBlocks, blockKey(block.ID), data); err != nil {
		return err
	}
	if err := s.db.PutBatch(batch, CFBlocksBySeq, blockSequenceKey(block.Sequence), []byte(block.ID)); err != nil {
		return err
	}
	if err := s.meta.setTipSequenceBatch(batch, block.Sequence); err != nil {
		return err
	}

	if err := s.db.WriteBatch(batch); err != nil {
		return unavailable("append block", err)
	}
	return nil
}

// TransactionSequence returns the sequence of the block holding txID
func (s *BlockStore) TransactionSequence(ctx context.Context, txID string) (int64, error) {
	seq, err := s.transactionSequence(txID)
	if err != nil {
		return 0, err
	}
	if seq == 0 {
		return 0, fmt.Errorf("transaction %s in chain: %w", txID, ErrNotFound)
	}
	return seq, nil
}

// transactionSequence returns 0 when no block holds txID
func (s *BlockStore) transactionSequence(txID string) (int64, error) {
	data, err := s.db.Get(CFTxBlocks, txKey(txID))
	if err != nil {
		return 0, unavailable("read transaction index", err)
	}
	if data == nil {
		return 0, nil
	}
	seq, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block sequence of transaction %s: %w", txID, err)
	}
	return seq, nil
}

// GetBlock retrieves a block by its id
func (s *BlockStore) GetBlock(ctx context.Context, id string) (*models.Block, error) {
	data, err := s.db.Get(CFBlocks, blockKey(id))
	if err != nil {
		return nil, unavailable("read block", err)
	}
	if data == nil {
		return nil, fmt.Errorf("block %s: %w", id, ErrNotFound)
	}
	return decodeBlock(data)
}

// GetBlockBySequence retrieves a block by its sequence number
func (s *BlockStore) GetBlockBySequence(ctx context.Context, seq int64) (*models.Block, error) {
	id, err := s.db.Get(CFBlocksBySeq, blockSequenceKey(seq))
	if err != nil {
		return nil, unavailable("read sequence index", err)
	}
	if id == nil {
		return nil, fmt.Errorf("block #%d: %w", seq, ErrNotFound)
	}
	return s.GetBlock(ctx, string(id))
}

// GetTip retrieves the highest-sequence block
func (s *BlockStore) GetTip(ctx context.Context) (*models.Block, error) {
	seq, err := s.meta.GetTipSequence()
	if err != nil {
		return nil, unavailable("read tip", err)
	}
	if seq == 0 {
		return nil, nil
	}
	return s.GetBlockBySequence(ctx, seq)
}

// ListBlocks walks the sequence index in the requested order
func (s *BlockStore) ListBlocks(ctx context.Context, limit int, order Order) ([]*models.Block, error) {
	var (
		iter *Iterator
		err  error
	)
	if order == OrderDesc {
		iter, err = s.db.NewReverseIterator(CFBlocksBySeq)
	} else {
		iter, err = s.db.NewIterator(CFBlocksBySeq)
	}
	if err != nil {
		return nil, unavailable("iterate blocks", err)
	}
	defer iter.Close()

	var blocks []*models.Block
	for ; iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		block, err := s.GetBlock(ctx, string(iter.Value()))
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
		if limit > 0 && len(blocks) >= limit {
			break
		}
	}
	return blocks, nil
}

func decodeBlock(data []byte) (*models.Block, error) {
	var block models.Block
	if err := jsonx.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}
	return &block, nil
}
