package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Transaction types
const (
	TypeDeposit     = "deposit"
	TypeWithdrawal  = "withdrawal"
	TypeTransferIn  = "transfer_in"
	TypeTransferOut = "transfer_out"
)

// Transaction statuses
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Transaction is an immutable ledger entry. BalanceBefore and BalanceAfter
// are snapshots taken atomically with the balance mutation; once a
// transaction is completed, its amount, snapshots and type never change.
type Transaction struct {
	ID                   int64      `json:"-" db:"id"`
	TransactionID        string     `json:"transaction_id" db:"transaction_id"`
	AccountID            string     `json:"account_id" db:"account_id"`
	Type                 string     `json:"type" db:"type"`
	Amount               int64      `json:"amount" db:"amount"` // in cents
	BalanceBefore        int64      `json:"balance_before" db:"balance_before"`
	BalanceAfter         int64      `json:"balance_after" db:"balance_after"`
	Status               string     `json:"status" db:"status"`
	Reference            string     `json:"reference" db:"reference"`
	RelatedTransactionID string     `json:"related_transaction_id,omitempty" db:"related_transaction_id"`
	Description          string     `json:"description" db:"description"`
	ProcessedBy          string     `json:"processed_by,omitempty" db:"processed_by"`
	FailureReason        string     `json:"failure_reason,omitempty" db:"failure_reason"`
	Metadata             Metadata   `json:"metadata,omitempty" db:"metadata"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Metadata type for JSONB fields
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}

// TransactionView is the outbound transaction shape.
type TransactionView struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Amount        int64      `json:"amount"`
	BalanceBefore int64      `json:"balance_before"`
	BalanceAfter  int64      `json:"balance_after"`
	Status        string     `json:"status"`
	Reference     string     `json:"reference"`
	Description   string     `json:"description,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// View returns the client-facing representation of the transaction.
func (t *Transaction) View() TransactionView {
	return TransactionView{
		ID:            t.TransactionID,
		Type:          t.Type,
		Amount:        t.Amount,
		BalanceBefore: t.BalanceBefore,
		BalanceAfter:  t.BalanceAfter,
		Status:        t.Status,
		Reference:     t.Reference,
		Description:   t.Description,
		CreatedAt:     t.CreatedAt,
		CompletedAt:   t.CompletedAt,
	}
}

// HistoryPage is a stable, reverse-chronological page of transactions.
type HistoryPage struct {
	Transactions []TransactionView `json:"transactions"`
	CurrentPage  int               `json:"currentPage"`
	TotalPages   int               `json:"totalPages"`
	TotalCount   int64             `json:"totalCount"`
	HasNext      bool              `json:"hasNext"`
	HasPrevious  bool              `json:"hasPrevious"`
}
