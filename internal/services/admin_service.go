package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/uwingabirejoselyne/credit-jambo-client-app/internal/middleware"
	"github.com/uwingabirejoselyne/credit-jambo-client-app/internal/models"
)

// AdminService is the administrator surface: device verification,
// administrator-initiated deposits with a pending/settle/cancel
// lifecycle, and soft account deactivation.
type AdminService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
}

// VerifyDeviceRequest identifies a device within an account aggregate.
type VerifyDeviceRequest struct {
	DeviceHash string `json:"deviceHash" validate:"required,len=64,hexadecimal"`
}

// CreditRequest is an administrator-initiated pending deposit.
type CreditRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=500"`
}

// CancelRequest carries the reason a pending transaction is cancelled.
type CancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func NewAdminService(db *sql.DB, ledger *LedgerService) *AdminService {
	return &AdminService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// VerifyDevice marks a device as trusted
// @Summary Verify device
// @Description Flip a device's verification flag, stamping the verifying administrator and time
// @Tags admin
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID"
// @Param request body VerifyDeviceRequest true "Device to verify"
// @Success 200 {object} models.AccountView
// @Failure 404 {object} ErrorResponse
// @Router /admin/accounts/{accountId}/devices/verify [post]
func (a *AdminService) VerifyDevice(w http.ResponseWriter, r *http.Request) {
	adminID := middleware.AccountID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	var req VerifyDeviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tx, err := a.db.Begin()
	if err != nil {
		log.Printf("[ADMIN] Failed to begin transaction: %v", err)
		WriteServiceError(w, storeErr(err))
		return
	}
	defer tx.Rollback()

	// Devices live inside the account aggregate, so the whole row is
	// locked for the flip.
	var account models.Account
	err = tx.QueryRow(`
		SELECT id, first_name, last_name, email, phone, balance, devices, is_active, version, created_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(
		&account.ID, &account.FirstName, &account.LastName, &account.Email, &account.Phone,
		&account.Balance, &account.Devices, &account.IsActive, &account.Version, &account.CreatedAt)
	if err == sql.ErrNoRows {
		WriteServiceError(w, models.ErrAccountNotFound)
		return
	}
	if err != nil {
		WriteServiceError(w, storeErr(err))
		return
	}

	device := account.Devices.Find(req.DeviceHash)
	if device == nil {
		WriteServiceError(w, models.ErrDeviceNotRegistered)
		return
	}

	now := time.Now()
	device.IsVerified = true
	device.VerifiedAt = &now
	device.VerifiedBy = adminID

	_, err = tx.Exec(`UPDATE accounts SET devices = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4`,
		account.Devices, now, account.ID, account.Version)
	if err != nil {
		WriteServiceError(w, storeErr(err))
		return
	}

	if err := tx.Commit(); err != nil {
		WriteServiceError(w, storeErr(err))
		return
	}

	log.Printf("[ADMIN] Device %s verified on account %s by %s", req.DeviceHash, accountID, adminID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account.View())
}

// CreditAccount records a pending deposit
// @Summary Credit account
// @Description Record an administrator-initiated deposit as pending; the balance effect applies on settlement
// @Tags admin
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID"
// @Param request body CreditRequest true "Credit request"
// @Success 201 {object} models.TransactionView
// @Failure 400 {object} ErrorResponse
// @Router /admin/accounts/{accountId}/credit [post]
func (a *AdminService) CreditAccount(w http.ResponseWriter, r *http.Request) {
	adminID := middleware.AccountID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	var req CreditRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := toMinorUnits(req.Amount)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	rec, err := a.ledger.CreatePendingDeposit(accountID, amount, req.Description, adminID)
	if err != nil {
		log.Printf("[ADMIN] Pending deposit failed for account %s: %v", accountID, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[ADMIN] Pending deposit %s created for account %s by %s", rec.Reference, accountID, adminID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rec.View())
}

// SettleTransaction settles a pending deposit
// @Summary Settle pending deposit
// @Description Apply the balance effect of a pending deposit atomically with its completion
// @Tags admin
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.TransactionView
// @Failure 409 {object} ErrorResponse
// @Router /admin/transactions/{txId}/settle [post]
func (a *AdminService) SettleTransaction(w http.ResponseWriter, r *http.Request) {
	adminID := middleware.AccountID(r.Context())
	txID := chi.URLParam(r, "txId")

	rec, err := a.ledger.CompletePendingDeposit(txID, adminID)
	if err != nil {
		log.Printf("[ADMIN] Settlement failed for transaction %s: %v", txID, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[ADMIN] Transaction %s settled by %s", txID, adminID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec.View())
}

// CancelTransaction cancels a pending transaction
// @Summary Cancel pending transaction
// @Description Transition a pending transaction to cancelled; completed transactions are never reversed
// @Tags admin
// @Accept json
// @Produce json
// @Param txId path string true "Transaction ID"
// @Param request body CancelRequest true "Cancellation reason"
// @Success 200 {object} models.TransactionView
// @Failure 409 {object} ErrorResponse
// @Router /admin/transactions/{txId}/cancel [post]
func (a *AdminService) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	adminID := middleware.AccountID(r.Context())
	txID := chi.URLParam(r, "txId")

	var req CancelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	rec, err := a.ledger.CancelPendingTransaction(txID, req.Reason, adminID)
	if err != nil {
		log.Printf("[ADMIN] Cancellation failed for transaction %s: %v", txID, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[ADMIN] Transaction %s cancelled by %s", txID, adminID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec.View())
}

// DeactivateAccount soft-deactivates an account
// @Summary Deactivate account
// @Description Gate all ledger and login operations for the account; accounts are never hard-deleted
// @Tags admin
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /admin/accounts/{accountId}/deactivate [put]
func (a *AdminService) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	adminID := middleware.AccountID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	result, err := a.db.Exec(`UPDATE accounts SET is_active = FALSE, version = version + 1, updated_at = $1 WHERE id = $2`,
		time.Now(), accountID)
	if err != nil {
		log.Printf("[ADMIN] Deactivation failed for account %s: %v", accountID, err)
		WriteServiceError(w, storeErr(err))
		return
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		WriteServiceError(w, models.ErrAccountNotFound)
		return
	}

	log.Printf("[ADMIN] Account %s deactivated by %s", accountID, adminID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Account deactivated"})
}
