package services

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uwingabirejoselyne/credit-jambo-client-app/internal/models"
)

// LedgerService executes balance mutations as atomic units: the account
// row lock, the balance update and the transaction insert commit together
// or not at all. Balance checks are always made against the freshly
// locked row, never against a value read before entering the transaction.
//
// Operations carry no idempotency key: a retried deposit is
// indistinguishable from a second legitimate deposit, so callers must not
// blindly retry on timeout.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

type lockedAccount struct {
	ID       string
	Balance  int64
	IsActive bool
	Version  int
}

// Deposit credits the account and records a completed deposit transaction.
func (s *LedgerService) Deposit(accountID string, amount int64, description string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, models.ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, storeErr(err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, models.ErrAccountInactive
	}

	rec := newCompletedTransaction(accountID, models.TypeDeposit, amount, account.Balance, account.Balance+amount, description)
	if err := s.insertTransaction(tx, rec); err != nil {
		return nil, storeErr(err)
	}

	if err := s.updateAccountBalance(tx, account.ID, account.Balance+amount, account.Version); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr(err)
	}
	return rec, nil
}

// Withdraw debits the account after re-checking the balance against the
// locked row. On insufficient funds nothing is mutated and no transaction
// record is written.
func (s *LedgerService) Withdraw(accountID string, amount int64, description string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, models.ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, storeErr(err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, models.ErrAccountInactive
	}
	if account.Balance < amount {
		return nil, models.ErrInsufficientFunds
	}

	rec := newCompletedTransaction(accountID, models.TypeWithdrawal, amount, account.Balance, account.Balance-amount, description)
	if err := s.insertTransaction(tx, rec); err != nil {
		return nil, storeErr(err)
	}

	if err := s.updateAccountBalance(tx, account.ID, account.Balance-amount, account.Version); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr(err)
	}
	return rec, nil
}

// Transfer moves amount between two accounts, writing a linked
// transfer_out/transfer_in pair whose related ids point at each other.
// Both balance changes and both records commit together; if any leg
// fails, the whole transfer is rolled back.
func (s *LedgerService) Transfer(fromAccountID, toAccountID string, amount int64, description string) (*models.Transaction, *models.Transaction, error) {
	if fromAccountID == toAccountID {
		return nil, nil, models.ErrInvalidTransfer
	}
	if amount <= 0 {
		return nil, nil, models.ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, storeErr(err)
	}
	defer tx.Rollback()

	// Lock accounts in consistent order to prevent deadlocks
	firstLock, secondLock := fromAccountID, toAccountID
	if fromAccountID > toAccountID {
		firstLock, secondLock = toAccountID, fromAccountID
	}

	fromAccount, err := s.lockAccount(tx, firstLock)
	if err != nil {
		return nil, nil, err
	}
	toAccount, err := s.lockAccount(tx, secondLock)
	if err != nil {
		return nil, nil, err
	}
	if firstLock != fromAccountID {
		fromAccount, toAccount = toAccount, fromAccount
	}

	if !fromAccount.IsActive || !toAccount.IsActive {
		return nil, nil, models.ErrAccountInactive
	}
	if fromAccount.Balance < amount {
		return nil, nil, models.ErrInsufficientFunds
	}

	outRec := newCompletedTransaction(fromAccountID, models.TypeTransferOut, amount, fromAccount.Balance, fromAccount.Balance-amount, description)
	inRec := newCompletedTransaction(toAccountID, models.TypeTransferIn, amount, toAccount.Balance, toAccount.Balance+amount, description)
	outRec.RelatedTransactionID = inRec.TransactionID
	inRec.RelatedTransactionID = outRec.TransactionID
	outRec.Metadata = models.Metadata{"counterparty": toAccountID}
	inRec.Metadata = models.Metadata{"counterparty": fromAccountID}

	if err := s.insertTransaction(tx, outRec); err != nil {
		return nil, nil, storeErr(err)
	}
	if err := s.insertTransaction(tx, inRec); err != nil {
		return nil, nil, storeErr(err)
	}

	if err := s.updateAccountBalance(tx, fromAccount.ID, fromAccount.Balance-amount, fromAccount.Version); err != nil {
		return nil, nil, err
	}
	if err := s.updateAccountBalance(tx, toAccount.ID, toAccount.Balance+amount, toAccount.Version); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, storeErr(err)
	}
	return outRec, inRec, nil
}

// CreatePendingDeposit records an administrator-initiated deposit without
// applying any balance effect. The balance snapshots are taken when the
// deposit is settled.
func (s *LedgerService) CreatePendingDeposit(accountID string, amount int64, description, actorID string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, models.ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, storeErr(err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, models.ErrAccountInactive
	}

	rec := &models.Transaction{
		TransactionID: uuid.NewString(),
		AccountID:     accountID,
		Type:          models.TypeDeposit,
		Amount:        amount,
		Status:        models.StatusPending,
		Reference:     newReference(models.TypeDeposit),
		Description:   description,
		ProcessedBy:   actorID,
		CreatedAt:     time.Now(),
	}
	if err := s.insertTransaction(tx, rec); err != nil {
		return nil, storeErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr(err)
	}
	return rec, nil
}

// CompletePendingDeposit settles a pending deposit: snapshots the balance,
// applies the credit and marks the record completed, atomically.
func (s *LedgerService) CompletePendingDeposit(transactionID, actorID string) (*models.Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, storeErr(err)
	}
	defer tx.Rollback()

	rec, err := s.lockTransaction(tx, transactionID)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusPending {
		return nil, models.ErrNotPending
	}

	account, err := s.lockAccount(tx, rec.AccountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, models.ErrAccountInactive
	}

	now := time.Now()
	rec.Status = models.StatusCompleted
	rec.BalanceBefore = account.Balance
	rec.BalanceAfter = account.Balance + rec.Amount
	rec.ProcessedBy = actorID
	rec.CompletedAt = &now

	_, err = tx.Exec(`
		UPDATE transactions
		SET status = $1, balance_before = $2, balance_after = $3, processed_by = $4, completed_at = $5
		WHERE transaction_id = $6`,
		rec.Status, rec.BalanceBefore, rec.BalanceAfter, rec.ProcessedBy, rec.CompletedAt, rec.TransactionID)
	if err != nil {
		return nil, storeErr(err)
	}

	if err := s.updateAccountBalance(tx, account.ID, rec.BalanceAfter, account.Version); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr(err)
	}
	return rec, nil
}

// CancelPendingTransaction transitions a pending transaction to cancelled.
// Completed transactions are never reversed here; that would require
// compensating entries.
func (s *LedgerService) CancelPendingTransaction(transactionID, reason, actorID string) (*models.Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, storeErr(err)
	}
	defer tx.Rollback()

	rec, err := s.lockTransaction(tx, transactionID)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusPending {
		return nil, models.ErrNotPending
	}

	rec.Status = models.StatusCancelled
	rec.ProcessedBy = actorID
	rec.FailureReason = reason

	_, err = tx.Exec(`
		UPDATE transactions
		SET status = $1, processed_by = $2, failure_reason = $3
		WHERE transaction_id = $4`,
		rec.Status, rec.ProcessedBy, rec.FailureReason, rec.TransactionID)
	if err != nil {
		return nil, storeErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr(err)
	}
	return rec, nil
}

// GetHistory returns one reverse-chronological page of the account's
// transactions. Creation-time ordering is tie-broken by the row id so
// pagination stays deterministic across pages.
func (s *LedgerService) GetHistory(accountID string, page, pageSize int) (*models.HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	var totalCount int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE account_id = $1`, accountID).Scan(&totalCount)
	if err != nil {
		return nil, storeErr(err)
	}

	rows, err := s.db.Query(`
		SELECT transaction_id, account_id, type, amount, balance_before, balance_after,
		       status, reference, COALESCE(related_transaction_id::text, ''), description,
		       COALESCE(processed_by::text, ''), created_at, completed_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		accountID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	views := []models.TransactionView{}
	for rows.Next() {
		var t models.Transaction
		err := rows.Scan(
			&t.TransactionID, &t.AccountID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
			&t.Status, &t.Reference, &t.RelatedTransactionID, &t.Description,
			&t.ProcessedBy, &t.CreatedAt, &t.CompletedAt,
		)
		if err != nil {
			return nil, storeErr(err)
		}
		views = append(views, t.View())
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}

	totalPages := int((totalCount + int64(pageSize) - 1) / int64(pageSize))
	return &models.HistoryPage{
		Transactions: views,
		CurrentPage:  page,
		TotalPages:   totalPages,
		TotalCount:   totalCount,
		HasNext:      page < totalPages,
		HasPrevious:  page > 1,
	}, nil
}

// GetTransaction fetches one transaction scoped to the owning account.
func (s *LedgerService) GetTransaction(accountID, transactionID string) (*models.Transaction, error) {
	var t models.Transaction
	err := s.db.QueryRow(`
		SELECT transaction_id, account_id, type, amount, balance_before, balance_after,
		       status, reference, COALESCE(related_transaction_id::text, ''), description,
		       COALESCE(processed_by::text, ''), created_at, completed_at
		FROM transactions
		WHERE transaction_id = $1 AND account_id = $2`,
		transactionID, accountID).Scan(
		&t.TransactionID, &t.AccountID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
		&t.Status, &t.Reference, &t.RelatedTransactionID, &t.Description,
		&t.ProcessedBy, &t.CreatedAt, &t.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrTransactionNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &t, nil
}

func (s *LedgerService) lockAccount(tx *sql.Tx, accountID string) (*lockedAccount, error) {
	var account lockedAccount
	err := tx.QueryRow(`
		SELECT id, balance, is_active, version
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(&account.ID, &account.Balance, &account.IsActive, &account.Version)
	if err == sql.ErrNoRows {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &account, nil
}

func (s *LedgerService) lockTransaction(tx *sql.Tx, transactionID string) (*models.Transaction, error) {
	var t models.Transaction
	err := tx.QueryRow(`
		SELECT transaction_id, account_id, type, amount, status, reference, description
		FROM transactions
		WHERE transaction_id = $1
		FOR UPDATE`, transactionID).Scan(
		&t.TransactionID, &t.AccountID, &t.Type, &t.Amount, &t.Status, &t.Reference, &t.Description)
	if err == sql.ErrNoRows {
		return nil, models.ErrTransactionNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &t, nil
}

func (s *LedgerService) insertTransaction(tx *sql.Tx, rec *models.Transaction) error {
	_, err := tx.Exec(`
		INSERT INTO transactions
		(transaction_id, account_id, type, amount, balance_before, balance_after, status,
		 reference, related_transaction_id, description, processed_by, metadata, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.TransactionID, rec.AccountID, rec.Type, rec.Amount, rec.BalanceBefore, rec.BalanceAfter,
		rec.Status, rec.Reference, nullString(rec.RelatedTransactionID), rec.Description,
		nullString(rec.ProcessedBy), rec.Metadata, rec.CreatedAt, rec.CompletedAt)
	return err
}

func (s *LedgerService) updateAccountBalance(tx *sql.Tx, accountID string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return storeErr(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if rowsAffected == 0 {
		return storeErr(fmt.Errorf("optimistic lock failed for account %s", accountID))
	}
	return nil
}

func newCompletedTransaction(accountID, txType string, amount, balanceBefore, balanceAfter int64, description string) *models.Transaction {
	now := time.Now()
	return &models.Transaction{
		TransactionID: uuid.NewString(),
		AccountID:     accountID,
		Type:          txType,
		Amount:        amount,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		Status:        models.StatusCompleted,
		Reference:     newReference(txType),
		Description:   description,
		CreatedAt:     now,
		CompletedAt:   &now,
	}
}

var referencePrefixes = map[string]string{
	models.TypeDeposit:     "DEP",
	models.TypeWithdrawal:  "WDL",
	models.TypeTransferIn:  "TRF",
	models.TypeTransferOut: "TRF",
}

// newReference builds a short, type-prefixed reference. Uniqueness is
// enforced by the store constraint on the reference column, not only by
// the randomness of the suffix.
func newReference(txType string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
	return fmt.Sprintf("%s-%s", referencePrefixes[txType], suffix)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}
