package services

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/uwingabirejoselyne/credit-jambo-client-app/internal/middleware"
)

// TransactionService is the HTTP surface of the ledger for the
// authenticated customer. All operations are scoped to the account
// carried by the request context.
type TransactionService struct {
	ledger    *LedgerService
	validator *ValidationHelper
}

// MoneyRequest is the deposit/withdrawal payload.
type MoneyRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=500"`
}

// TransferRequest is the transfer payload. FromAccountID, when supplied,
// must match the authenticated account.
type TransferRequest struct {
	FromAccountID string          `json:"fromAccountId" validate:"omitempty,uuid4"`
	ToAccountID   string          `json:"toAccountId" validate:"required,uuid4"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description" validate:"max=500"`
}

func NewTransactionService(ledger *LedgerService) *TransactionService {
	return &TransactionService{
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// Deposit credits the authenticated account
// @Summary Deposit
// @Description Credit the account and record a completed deposit transaction
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body MoneyRequest true "Deposit request"
// @Success 201 {object} models.TransactionView
// @Failure 400 {object} ErrorResponse
// @Router /transactions/deposit [post]
func (ts *TransactionService) Deposit(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())

	var req MoneyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := toMinorUnits(req.Amount)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	rec, err := ts.ledger.Deposit(accountID, amount, req.Description)
	if err != nil {
		log.Printf("[LEDGER] Deposit failed for account %s: %v", accountID, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[LEDGER] Deposit %s completed for account %s", rec.Reference, accountID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rec.View())
}

// Withdraw debits the authenticated account
// @Summary Withdraw
// @Description Debit the account after a fresh balance check; rejected withdrawals leave no trace
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body MoneyRequest true "Withdrawal request"
// @Success 201 {object} models.TransactionView
// @Failure 400 {object} ErrorResponse
// @Router /transactions/withdraw [post]
func (ts *TransactionService) Withdraw(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())

	var req MoneyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := toMinorUnits(req.Amount)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	rec, err := ts.ledger.Withdraw(accountID, amount, req.Description)
	if err != nil {
		log.Printf("[LEDGER] Withdrawal failed for account %s: %v", accountID, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[LEDGER] Withdrawal %s completed for account %s", rec.Reference, accountID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rec.View())
}

// Transfer moves funds to another account
// @Summary Transfer
// @Description Atomically debit this account and credit the destination, writing a linked pair of records
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body TransferRequest true "Transfer request"
// @Success 201 {object} models.TransactionView
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /transactions/transfer [post]
func (ts *TransactionService) Transfer(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())

	var req TransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.FromAccountID != "" && req.FromAccountID != accountID {
		SendErrorResponse(w, "Cannot transfer from another account", http.StatusForbidden, nil)
		return
	}

	amount, err := toMinorUnits(req.Amount)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	outRec, _, err := ts.ledger.Transfer(accountID, req.ToAccountID, amount, req.Description)
	if err != nil {
		log.Printf("[LEDGER] Transfer failed from account %s: %v", accountID, err)
		WriteServiceError(w, err)
		return
	}

	log.Printf("[LEDGER] Transfer %s completed from account %s", outRec.Reference, accountID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(outRec.View())
}

// History returns a page of the account's transactions
// @Summary Transaction history
// @Description Reverse-chronological, deterministically paginated transaction history
// @Tags transactions
// @Produce json
// @Param page query int false "Page number (default 1)"
// @Param pageSize query int false "Page size (default 20, max 100)"
// @Success 200 {object} models.HistoryPage
// @Router /transactions [get]
func (ts *TransactionService) History(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))

	history, err := ts.ledger.GetHistory(accountID, page, pageSize)
	if err != nil {
		log.Printf("[LEDGER] History fetch failed for account %s: %v", accountID, err)
		WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

// GetTransaction returns one transaction owned by the account
// @Summary Get transaction
// @Description Fetch a single transaction by id, scoped to the authenticated account
// @Tags transactions
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.TransactionView
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txId} [get]
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())
	txID := chi.URLParam(r, "txId")

	rec, err := ts.ledger.GetTransaction(accountID, txID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec.View())
}
