package ledger

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/movalsociety/ledger/internal/jsonx"
	"github.com/movalsociety/ledger/internal/models"
)

// DigestSize is the length of a hex encoded block digest
const DigestSize = chainhash.HashSize * 2

// CanonicalTimestamp formats t the way it enters a digest
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// CanonicalPayload serializes a payload deterministically. Payload and
// PayloadTransaction are structs, so field order is fixed by declaration.
func CanonicalPayload(p models.Payload) ([]byte, error) {
	if p.Transactions == nil {
		p.Transactions = []models.PayloadTransaction{}
	}
	data, err := jsonx.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

// Digest computes SHA-256 over sequence || previous || timestamp || payload.
// previous is "" for the genesis block.
func Digest(sequence int64, previous string, timestamp time.Time, payload models.Payload) (string, error) {
	encoded, err := CanonicalPayload(payload)
	if err != nil {
		return "", err
	}

	seq := strconv.FormatInt(sequence, 10)
	ts := CanonicalTimestamp(timestamp)
	input := make([]byte, 0, len(seq)+len(previous)+len(ts)+len(encoded))
	input = append(input, seq...)
	input = append(input, previous...)
	input = append(input, ts...)
	input = append(input, encoded...)

	return hex.EncodeToString(chainhash.HashB(input)), nil
}

// BlockDigest recomputes the digest of a block from its own fields
func BlockDigest(b *models.Block) (string, error) {
	return Digest(b.Sequence, b.PreviousDigest(), b.Timestamp, b.Payload)
}
