// Package store owns persistence of tenant database records in the control
// database. Nothing outside this package writes the tenant_databases table.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/teresa-solution/tenant-db-manager/internal/crypto"
	"github.com/teresa-solution/tenant-db-manager/internal/model"
)

// RedisClient is the slice of the redis API the registry cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

const cacheTTL = 1 * time.Hour

// Registry is the persisted catalog of tenant databases, backed by the
// control-plane PostgreSQL database with an optional Redis read cache.
type Registry struct {
	db    *sql.DB
	cache RedisClient
}

// NewRegistry opens the control database and verifies the connection.
func NewRegistry(dsn string) (*Registry, error) {
	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	db := stdlib.OpenDB(*config)
	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &Registry{db: db}, nil
}

// NewRegistryWithDB wraps an existing control-plane connection.
func NewRegistryWithDB(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// UseCache enables the Redis read-through cache on record lookups.
func (r *Registry) UseCache(c RedisClient) {
	r.cache = c
}

// Close closes the control connection and the cache client, if any.
func (r *Registry) Close() error {
	if r.cache != nil {
		if err := r.cache.Close(); err != nil {
			return err
		}
	}
	return r.db.Close()
}

// Create inserts a new record, assigning its id and timestamps. The password
// override, when present, is stored encrypted.
func (r *Registry) Create(ctx context.Context, rec *model.TenantDatabase) error {
	if rec.DBName == "" {
		return fmt.Errorf("db_name must not be empty")
	}
	if !rec.DriverType.Valid() {
		rec.DriverType = model.DefaultDriver
	}
	if !rec.DatabaseStatus.Valid() {
		rec.DatabaseStatus = model.StatusNotCreated
	}

	rec.ID = uuid.New()
	rec.Touch(time.Now())
	if err := r.sealPassword(rec); err != nil {
		return err
	}

	query := `
		INSERT INTO tenant_databases (id, db_name, driver_type, db_user_name, encrypted_password, password_nonce, db_host, db_port, database_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.DBName, rec.DriverType,
		nullString(rec.DBUserName), rec.EncryptedPassword, rec.PasswordNonce,
		nullString(rec.DBHost), nullString(rec.DBPort),
		rec.DatabaseStatus, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return err
	}

	r.invalidate(ctx, rec.ID)
	return nil
}

// Update rewrites the mutable fields of a record and bumps updated_at.
func (r *Registry) Update(ctx context.Context, rec *model.TenantDatabase) error {
	if err := r.sealPassword(rec); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now()

	query := `
		UPDATE tenant_databases
		SET driver_type = $2, db_user_name = $3, encrypted_password = $4, password_nonce = $5, db_host = $6, db_port = $7, database_status = $8, updated_at = $9
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.DriverType,
		nullString(rec.DBUserName), rec.EncryptedPassword, rec.PasswordNonce,
		nullString(rec.DBHost), nullString(rec.DBPort),
		rec.DatabaseStatus, rec.UpdatedAt,
	)
	if err != nil {
		return err
	}

	r.invalidate(ctx, rec.ID)
	return nil
}

// UpdateStatus advances a record's lifecycle status.
func (r *Registry) UpdateStatus(ctx context.Context, id uuid.UUID, status model.DatabaseStatus) error {
	query := `UPDATE tenant_databases SET database_status = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, status, time.Now())
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	r.invalidate(ctx, id)
	return nil
}

const selectColumns = `id, db_name, driver_type, db_user_name, encrypted_password, password_nonce, db_host, db_port, database_status, created_at, updated_at`

// GetByID retrieves a record, consulting the cache first when enabled.
// Returns nil without error when no record exists.
func (r *Registry) GetByID(ctx context.Context, id uuid.UUID) (*model.TenantDatabase, error) {
	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, cacheKey(id)).Result(); err == nil {
			rec := &model.TenantDatabase{}
			if err := json.Unmarshal([]byte(cached), rec); err == nil {
				if err := openPassword(rec); err == nil {
					return rec, nil
				}
			}
		}
	}

	query := fmt.Sprintf(`SELECT %s FROM tenant_databases WHERE id = $1`, selectColumns)
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil || rec == nil {
		return rec, err
	}

	if r.cache != nil {
		if data, err := json.Marshal(rec); err == nil {
			r.cache.SetEx(ctx, cacheKey(id), data, cacheTTL)
		}
	}
	return rec, nil
}

// GetByName retrieves a record by its unique logical database name. Returns
// nil without error when no record exists.
func (r *Registry) GetByName(ctx context.Context, dbName string) (*model.TenantDatabase, error) {
	query := fmt.Sprintf(`SELECT %s FROM tenant_databases WHERE db_name = $1`, selectColumns)
	return scanRecord(r.db.QueryRowContext(ctx, query, dbName))
}

// ListByStatus returns every record in the given lifecycle status.
func (r *Registry) ListByStatus(ctx context.Context, status model.DatabaseStatus) ([]*model.TenantDatabase, error) {
	query := fmt.Sprintf(`SELECT %s FROM tenant_databases WHERE database_status = $1 ORDER BY created_at, id`, selectColumns)
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*model.TenantDatabase
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FindDefaultCreated returns the default tenant database: the record in
// created status with the earliest created_at (id as tie-break, so the
// result is deterministic when several exist). Returns nil without error
// when there is none.
func (r *Registry) FindDefaultCreated(ctx context.Context) (*model.TenantDatabase, error) {
	query := fmt.Sprintf(`SELECT %s FROM tenant_databases WHERE database_status = $1 ORDER BY created_at, id LIMIT 1`, selectColumns)
	return scanRecord(r.db.QueryRowContext(ctx, query, model.StatusCreated))
}

// CreateProvisioningLog records one provisioning step for operator diagnosis.
func (r *Registry) CreateProvisioningLog(ctx context.Context, id uuid.UUID, step, status string, details interface{}) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}
	query := `INSERT INTO tenant_provisioning_logs (tenant_database_id, step, status, details, created_at)
              VALUES ($1, $2, $3, $4, $5)`
	_, err = r.db.ExecContext(ctx, query, id, step, status, detailsJSON, time.Now())
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*model.TenantDatabase, error) {
	rec := &model.TenantDatabase{}
	var userName, host, port sql.NullString
	err := row.Scan(
		&rec.ID, &rec.DBName, &rec.DriverType,
		&userName, &rec.EncryptedPassword, &rec.PasswordNonce,
		&host, &port,
		&rec.DatabaseStatus, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.DBUserName = userName.String
	rec.DBHost = host.String
	rec.DBPort = port.String
	if err := openPassword(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Registry) sealPassword(rec *model.TenantDatabase) error {
	if rec.DBPassword == "" {
		return nil
	}
	encrypted, nonce, err := crypto.Encrypt(rec.DBPassword)
	if err != nil {
		return err
	}
	rec.EncryptedPassword = encrypted
	rec.PasswordNonce = nonce
	return nil
}

func openPassword(rec *model.TenantDatabase) error {
	if len(rec.EncryptedPassword) == 0 || len(rec.PasswordNonce) == 0 {
		return nil
	}
	password, err := crypto.Decrypt(rec.EncryptedPassword, rec.PasswordNonce)
	if err != nil {
		return err
	}
	rec.DBPassword = password
	return nil
}

func (r *Registry) invalidate(ctx context.Context, id uuid.UUID) {
	if r.cache != nil {
		r.cache.Del(ctx, cacheKey(id))
	}
}

func cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("tenantdb:%s", id.String())
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
