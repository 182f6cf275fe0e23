package model

import (
	"time"

	"github.com/google/uuid"
)

// DriverType identifies the database engine a tenant database runs on. The
// values double as the scheme of the canonical DSN form.
type DriverType string

const (
	DriverMySQL      DriverType = "mysql"
	DriverPostgreSQL DriverType = "pgsql"
	DriverSQLServer  DriverType = "sqlsrv"
)

// DefaultDriver is assumed whenever a record carries no driver override.
const DefaultDriver = DriverSQLServer

// Valid reports whether d is one of the known engines.
func (d DriverType) Valid() bool {
	switch d {
	case DriverMySQL, DriverPostgreSQL, DriverSQLServer:
		return true
	}
	return false
}

// DatabaseStatus tracks how far a tenant database has progressed through
// provisioning.
type DatabaseStatus string

const (
	StatusNotCreated DatabaseStatus = "not_created"
	StatusCreated    DatabaseStatus = "created"
	StatusMigrated   DatabaseStatus = "migrated"
)

// Valid reports whether s is a known lifecycle status.
func (s DatabaseStatus) Valid() bool {
	switch s {
	case StatusNotCreated, StatusCreated, StatusMigrated:
		return true
	}
	return false
}

// rank orders statuses along the provisioning pipeline.
func (s DatabaseStatus) rank() int {
	switch s {
	case StatusNotCreated:
		return 0
	case StatusCreated:
		return 1
	case StatusMigrated:
		return 2
	}
	return -1
}

// CanAdvance reports whether moving to next is a forward transition. The
// status only ever advances not_created -> created -> migrated; it never
// regresses through normal operation.
func (s DatabaseStatus) CanAdvance(next DatabaseStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() > s.rank()
}

// Timestamped carries the lifecycle columns shared by registry tables.
// Embed it by composition; the store sets both fields on first persist and
// bumps UpdatedAt on every mutation.
type Timestamped struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch stamps the record. First call sets CreatedAt as well.
func (t *Timestamped) Touch(now time.Time) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

// TenantDatabase represents one row of the tenant_databases registry table:
// a physical per-tenant database and its provisioning state. Credential
// fields are overrides; when empty they resolve to the process-wide default
// connection settings.
type TenantDatabase struct {
	ID         uuid.UUID  `json:"id"`
	DBName     string     `json:"db_name"`
	DriverType DriverType `json:"driver_type"`

	DBUserName string `json:"db_user_name,omitempty"`
	DBPassword string `json:"-"` // plaintext, transient, never stored
	DBHost     string `json:"db_host,omitempty"`
	DBPort     string `json:"db_port,omitempty"`

	// Encrypted form of DBPassword as stored in the control database.
	EncryptedPassword []byte `json:"encrypted_password,omitempty"`
	PasswordNonce     []byte `json:"password_nonce,omitempty"`

	DatabaseStatus DatabaseStatus `json:"database_status"`

	Timestamped
}

// ProvisioningLog represents the tenant_provisioning_logs table: one row per
// provisioning step for operator diagnosis.
type ProvisioningLog struct {
	ID               int64     `json:"id"`
	TenantDatabaseID uuid.UUID `json:"tenant_database_id"`
	Step             string    `json:"step"`
	Status           string    `json:"status"`
	Details          []byte    `json:"details,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
