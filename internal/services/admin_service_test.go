package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/uwingabirejoselyne/credit-jambo-client-app/internal/models"
)

const verifyDeviceSelectQuery = "SELECT id, first_name, last_name, email, phone, balance, devices, is_active, version, created_at FROM accounts WHERE id = \\$1 FOR UPDATE"

func newAdminRouter(service *AdminService) *chi.Mux {
	router := chi.NewRouter()
	router.Post("/api/v1/admin/accounts/{accountId}/devices/verify", service.VerifyDevice)
	router.Post("/api/v1/admin/accounts/{accountId}/credit", service.CreditAccount)
	router.Put("/api/v1/admin/accounts/{accountId}/deactivate", service.DeactivateAccount)
	router.Post("/api/v1/admin/transactions/{txId}/settle", service.SettleTransaction)
	router.Post("/api/v1/admin/transactions/{txId}/cancel", service.CancelTransaction)
	return router
}

func TestAdminService_VerifyDevice(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAdminService(db, NewLedgerService(db))
	router := newAdminRouter(service)

	adminID := "99999999-9999-4999-8999-999999999999"
	accountID := "11111111-1111-1111-1111-111111111111"
	deviceHash := models.HashDeviceIdentifier("device-12345678")

	t.Run("flips the verification flag under the account lock", func(t *testing.T) {
		devices := devicesJSON(t, models.DeviceList{{DeviceHash: deviceHash, AddedAt: time.Now()}})

		mock.ExpectBegin()
		mock.ExpectQuery(verifyDeviceSelectQuery).
			WithArgs(accountID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "last_name", "email", "phone", "balance", "devices", "is_active", "version", "created_at"}).
				AddRow(accountID, "John", "Doe", "john@example.com", "+250781234567", int64(0), devices, true, 1, time.Now()))
		mock.ExpectExec("UPDATE accounts SET devices = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), accountID, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		body, _ := json.Marshal(VerifyDeviceRequest{DeviceHash: deviceHash})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedJSON(adminID, models.RoleAdmin, http.MethodPost,
			"/api/v1/admin/accounts/"+accountID+"/devices/verify", body))

		assert.Equal(t, http.StatusOK, rec.Code)

		var view models.AccountView
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		assert.Len(t, view.Devices, 1)
		assert.True(t, view.Devices[0].IsVerified)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown device on the account", func(t *testing.T) {
		devices := devicesJSON(t, models.DeviceList{{DeviceHash: deviceHash, AddedAt: time.Now()}})

		mock.ExpectBegin()
		mock.ExpectQuery(verifyDeviceSelectQuery).
			WithArgs(accountID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "last_name", "email", "phone", "balance", "devices", "is_active", "version", "created_at"}).
				AddRow(accountID, "John", "Doe", "john@example.com", "+250781234567", int64(0), devices, true, 1, time.Now()))
		mock.ExpectRollback()

		body, _ := json.Marshal(VerifyDeviceRequest{DeviceHash: models.HashDeviceIdentifier("some-other-device")})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedJSON(adminID, models.RoleAdmin, http.MethodPost,
			"/api/v1/admin/accounts/"+accountID+"/devices/verify", body))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed device hash rejected before the store", func(t *testing.T) {
		body, _ := json.Marshal(VerifyDeviceRequest{DeviceHash: "not-a-hash"})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedJSON(adminID, models.RoleAdmin, http.MethodPost,
			"/api/v1/admin/accounts/"+accountID+"/devices/verify", body))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdminService_CreditAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAdminService(db, NewLedgerService(db))
	router := newAdminRouter(service)

	adminID := "99999999-9999-4999-8999-999999999999"
	accountID := "11111111-1111-1111-1111-111111111111"

	mock.ExpectBegin()
	mock.ExpectQuery(lockAccountQuery).
		WithArgs(accountID).
		WillReturnRows(lockedAccountRows(accountID, 100000, true, 1))
	mock.ExpectExec(insertTxQuery).
		WithArgs(sqlmock.AnyArg(), accountID, models.TypeDeposit, int64(25000), int64(0), int64(0),
			models.StatusPending, sqlmock.AnyArg(), sqlmock.AnyArg(), "promo bonus", adminID,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	body, _ := json.Marshal(CreditRequest{Amount: mustDecimal(t, "250.00"), Description: "promo bonus"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedJSON(adminID, models.RoleAdmin, http.MethodPost,
		"/api/v1/admin/accounts/"+accountID+"/credit", body))

	assert.Equal(t, http.StatusCreated, rec.Code)

	var view models.TransactionView
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, models.StatusPending, view.Status)
	assert.Equal(t, int64(25000), view.Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdminService_CancelTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAdminService(db, NewLedgerService(db))
	router := newAdminRouter(service)

	adminID := "99999999-9999-4999-8999-999999999999"
	accountID := "11111111-1111-1111-1111-111111111111"
	txID := "33333333-3333-3333-3333-333333333333"

	t.Run("requires a reason", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedJSON(adminID, models.RoleAdmin, http.MethodPost,
			"/api/v1/admin/transactions/"+txID+"/cancel", []byte(`{}`)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("settled transactions conflict", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockTransactionQuery).
			WithArgs(txID).
			WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "account_id", "type", "amount", "status", "reference", "description"}).
				AddRow(txID, accountID, models.TypeDeposit, int64(5000), models.StatusCompleted, "DEP-ABC", ""))
		mock.ExpectRollback()

		body, _ := json.Marshal(CancelRequest{Reason: "duplicate entry"})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedJSON(adminID, models.RoleAdmin, http.MethodPost,
			"/api/v1/admin/transactions/"+txID+"/cancel", body))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdminService_DeactivateAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAdminService(db, NewLedgerService(db))
	router := newAdminRouter(service)

	adminID := "99999999-9999-4999-8999-999999999999"
	accountID := "11111111-1111-1111-1111-111111111111"

	t.Run("soft deactivation", func(t *testing.T) {
		mock.ExpectExec("UPDATE accounts SET is_active = FALSE, version = version \\+ 1, updated_at = \\$1 WHERE id = \\$2").
			WithArgs(sqlmock.AnyArg(), accountID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedJSON(adminID, models.RoleAdmin, http.MethodPut,
			"/api/v1/admin/accounts/"+accountID+"/deactivate", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Account deactivated")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectExec("UPDATE accounts SET is_active = FALSE, version = version \\+ 1, updated_at = \\$1 WHERE id = \\$2").
			WithArgs(sqlmock.AnyArg(), accountID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedJSON(adminID, models.RoleAdmin, http.MethodPut,
			"/api/v1/admin/accounts/"+accountID+"/deactivate", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
