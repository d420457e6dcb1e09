package models

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// Account roles
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Account is a customer's savings identity: current balance plus the
// devices trusted to authenticate against it. Balance is held in minor
// units (cents) and is mutated only by the ledger.
type Account struct {
	ID        string     `json:"id" db:"id"`
	FirstName string     `json:"first_name" db:"first_name"`
	LastName  string     `json:"last_name" db:"last_name"`
	Email     string     `json:"email" db:"email"`
	Phone     string     `json:"phone" db:"phone"`
	Password  string     `json:"-" db:"password"`
	Balance   int64      `json:"balance" db:"balance"` // in cents
	Devices   DeviceList `json:"devices" db:"devices"`
	Role      string     `json:"role" db:"role"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	Version   int        `json:"version" db:"version"` // for optimistic locking
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Device is a client endpoint bound to an account. Only the hash of the
// client-supplied identifier is stored; the raw value is never persisted
// or compared after hashing. A device authenticates only once an
// administrator has verified it.
type Device struct {
	DeviceHash  string     `json:"device_hash"`
	IsVerified  bool       `json:"is_verified"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	VerifiedBy  string     `json:"verified_by,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	AddedAt     time.Time  `json:"added_at"`
}

// DeviceList is stored as a JSONB column on the accounts row. Devices are
// part of the account aggregate and are never addressable on their own.
type DeviceList []Device

// Value implements driver.Valuer for DeviceList
func (d DeviceList) Value() (driver.Value, error) {
	if d == nil {
		return json.Marshal(DeviceList{})
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner for DeviceList
func (d *DeviceList) Scan(value any) error {
	if value == nil {
		*d = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, d)
}

// Find returns the device with the given hash, or nil.
func (d DeviceList) Find(deviceHash string) *Device {
	for i := range d {
		if d[i].DeviceHash == deviceHash {
			return &d[i]
		}
	}
	return nil
}

// HashDeviceIdentifier derives the stable lookup key for a client-supplied
// device identifier. Server logic only ever compares hashes.
func HashDeviceIdentifier(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// AccountView is the sanitized account shape returned to clients: no
// password hash, no raw device identifiers.
type AccountView struct {
	ID        string       `json:"id"`
	FirstName string       `json:"first_name"`
	LastName  string       `json:"last_name"`
	Email     string       `json:"email"`
	Phone     string       `json:"phone"`
	Balance   int64        `json:"balance"`
	IsActive  bool         `json:"is_active"`
	Devices   []DeviceView `json:"devices"`
	CreatedAt time.Time    `json:"created_at"`
}

// DeviceView exposes a device's trust state without its identifier hash
// lineage.
type DeviceView struct {
	DeviceHash  string     `json:"device_hash"`
	IsVerified  bool       `json:"is_verified"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// View returns the sanitized representation of the account.
func (a *Account) View() AccountView {
	devices := make([]DeviceView, 0, len(a.Devices))
	for _, d := range a.Devices {
		devices = append(devices, DeviceView{
			DeviceHash:  d.DeviceHash,
			IsVerified:  d.IsVerified,
			LastLoginAt: d.LastLoginAt,
		})
	}

	return AccountView{
		ID:        a.ID,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Email:     a.Email,
		Phone:     a.Phone,
		Balance:   a.Balance,
		IsActive:  a.IsActive,
		Devices:   devices,
		CreatedAt: a.CreatedAt,
	}
}
