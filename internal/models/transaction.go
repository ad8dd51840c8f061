package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind tags what produced a transaction
type Kind string

const (
	KindTransfer         Kind = "transfer"
	KindRequest          Kind = "request"
	KindLoanDisbursement Kind = "loan_disbursement"
	KindLoanRepayment    Kind = "loan_repayment"
)

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	switch k {
	case KindTransfer, KindRequest, KindLoanDisbursement, KindLoanRepayment:
		return true
	}
	return false
}

// Transaction represents a finalized Moval transaction offered for chaining
type Transaction struct {
	ID          string          `json:"id"`
	Sender      *string         `json:"sender"`   // nil is the bank/system party
	Receiver    *string         `json:"receiver"` // nil is the bank/system party
	Amount      decimal.Decimal `json:"amount"`   // in Movals
	Description string          `json:"description"`
	Kind        Kind            `json:"kind"`
	CreatedAt   time.Time       `json:"created_at"`

	// BlockchainHash is the digest of the containing block, empty until stamped
	BlockchainHash string `json:"blockchain_hash,omitempty"`
}

// Validate checks the shape of a transaction record. Business rules such as
// balances or authorization belong to the payments flows, not here.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction id is required")
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("transaction %s: amount must be positive", t.ID)
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("transaction %s: unknown kind %q", t.ID, t.Kind)
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("transaction %s: created_at is required", t.ID)
	}
	return nil
}

// Chained reports whether the transaction has been stamped with a block digest
func (t *Transaction) Chained() bool {
	return t.BlockchainHash != ""
}
