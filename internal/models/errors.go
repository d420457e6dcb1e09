package models

import "errors"

// Business and infrastructure error kinds surfaced by the core services.
// Handlers map these to HTTP statuses; raw store error text is never
// returned to clients.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateAccount    = errors.New("email or phone already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountInactive     = errors.New("account is not active")
	ErrDeviceNotRegistered = errors.New("device not registered")
	ErrDeviceNotVerified   = errors.New("device not verified")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidTransfer     = errors.New("cannot transfer to the same account")
	ErrInvalidAmount       = errors.New("amount must be positive with at most two decimal places")
	ErrSessionExpired      = errors.New("session expired")
	ErrInvalidSession      = errors.New("invalid session")
	ErrNotPending          = errors.New("transaction is not pending")
	ErrStoreUnavailable    = errors.New("store unavailable")
)
