package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/teresa-solution/tenant-db-manager/internal/connswitch"
	"github.com/teresa-solution/tenant-db-manager/internal/model"
	"github.com/teresa-solution/tenant-db-manager/internal/schema"
)

const testBaseURL = "sqlsrv://sa@127.0.0.1:1433/control"

var testMetadata = schema.StaticMetadata{
	{
		Name: "users",
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: "BIGINT"},
			{Name: "email", Type: "VARCHAR(255)"},
		},
		PrimaryKey: []string{"id"},
	},
}

// fakeRegistry is an in-memory Registry. The mutex makes it safe to share
// with the provisioning worker goroutine.
type fakeRegistry struct {
	mu      sync.Mutex
	records map[uuid.UUID]*model.TenantDatabase
	logs    []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{records: make(map[uuid.UUID]*model.TenantDatabase)}
}

func (f *fakeRegistry) stepLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.logs...)
}

func (f *fakeRegistry) Create(ctx context.Context, rec *model.TenantDatabase) error {
	for _, existing := range f.records {
		if existing.DBName == rec.DBName {
			return fmt.Errorf("duplicate key value violates unique constraint")
		}
	}
	rec.ID = uuid.New()
	rec.Touch(time.Now())
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeRegistry) GetByID(ctx context.Context, id uuid.UUID) (*model.TenantDatabase, error) {
	return f.records[id], nil
}

func (f *fakeRegistry) GetByName(ctx context.Context, dbName string) (*model.TenantDatabase, error) {
	for _, rec := range f.records {
		if rec.DBName == dbName {
			return rec, nil
		}
	}
	return nil, nil
}

func (f *fakeRegistry) UpdateStatus(ctx context.Context, id uuid.UUID, status model.DatabaseStatus) error {
	rec, ok := f.records[id]
	if !ok {
		return sql.ErrNoRows
	}
	rec.DatabaseStatus = status
	rec.UpdatedAt = time.Now()
	return nil
}

func (f *fakeRegistry) ListByStatus(ctx context.Context, status model.DatabaseStatus) ([]*model.TenantDatabase, error) {
	var out []*model.TenantDatabase
	for _, rec := range f.records {
		if rec.DatabaseStatus == status {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DBName < out[j].DBName })
	return out, nil
}

func (f *fakeRegistry) FindDefaultCreated(ctx context.Context) (*model.TenantDatabase, error) {
	var best *model.TenantDatabase
	for _, rec := range f.records {
		if rec.DatabaseStatus != model.StatusCreated {
			continue
		}
		if best == nil || rec.CreatedAt.Before(best.CreatedAt) {
			best = rec
		}
	}
	return best, nil
}

func (f *fakeRegistry) CreateProvisioningLog(ctx context.Context, id uuid.UUID, step, status string, details interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, step+":"+status)
	return nil
}

// fakeConnector hands out pre-built sqlmock connections in order and records
// every connection string it was asked to open.
type fakeConnector struct {
	dbs    []*sql.DB
	opened []string
	err    error
}

func (c *fakeConnector) Open(driverName, connString string) (*sql.DB, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.opened = append(c.opened, driverName+" "+connString)
	if len(c.dbs) == 0 {
		return nil, errors.New("no connection queued")
	}
	db := c.dbs[0]
	c.dbs = c.dbs[1:]
	return db, nil
}

func setupService(t *testing.T) (*LifecycleService, *fakeRegistry, *fakeConnector) {
	registry := newFakeRegistry()
	svc, err := NewLifecycleService(testBaseURL, model.DriverSQLServer, registry, testMetadata)
	assert.NoError(t, err)

	connector := &fakeConnector{}
	svc.connector = connector
	return svc, registry, connector
}

func mockConn(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	return db, mock
}

func onboarded(t *testing.T, svc *LifecycleService, registry *fakeRegistry, name string, status model.DatabaseStatus) *model.TenantDatabase {
	id, err := svc.OnboardDatabaseConfig(context.Background(), name)
	assert.NoError(t, err)
	rec := registry.records[id]
	rec.DatabaseStatus = status
	return rec
}

func TestLifecycleService_MalformedBaseURL(t *testing.T) {
	_, err := NewLifecycleService("not-a-url", model.DriverSQLServer, newFakeRegistry(), testMetadata)
	assert.Error(t, err)
}

func TestLifecycleService_OnboardDatabaseConfig_Idempotent(t *testing.T) {
	svc, registry, _ := setupService(t)
	ctx := context.Background()

	first, err := svc.OnboardDatabaseConfig(ctx, "tenant7")
	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, first)

	second, err := svc.OnboardDatabaseConfig(ctx, "tenant7")
	assert.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, registry.records, 1)

	rec := registry.records[first]
	assert.Equal(t, model.StatusNotCreated, rec.DatabaseStatus)
	assert.Equal(t, model.DriverSQLServer, rec.DriverType)
}

func TestLifecycleService_OnboardDatabaseConfig_EmptyName(t *testing.T) {
	svc, _, _ := setupService(t)
	_, err := svc.OnboardDatabaseConfig(context.Background(), "")
	assert.Error(t, err)
}

func TestLifecycleService_CreateDatabase(t *testing.T) {
	svc, registry, connector := setupService(t)
	rec := onboarded(t, svc, registry, "tenant7", model.StatusNotCreated)

	db, mock := mockConn(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE DATABASE [tenant7]")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()
	connector.dbs = append(connector.dbs, db)

	count, err := svc.CreateDatabase(context.Background(), rec)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())

	// The server-level connection never targets the tenant database.
	assert.Equal(t, []string{"sqlserver sqlserver://sa@127.0.0.1:1433"}, connector.opened)
}

func TestLifecycleService_CreateDatabase_WrapsDriverError(t *testing.T) {
	svc, registry, connector := setupService(t)
	rec := onboarded(t, svc, registry, "tenant7", model.StatusNotCreated)
	rec.DriverType = model.DriverPostgreSQL

	db, mock := mockConn(t)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE DATABASE "tenant7"`)).
		WillReturnError(&pq.Error{Code: "42P04", Message: "already exists"})
	mock.ExpectClose()
	connector.dbs = append(connector.dbs, db)

	_, err := svc.CreateDatabase(context.Background(), rec)
	var provisioning *TenantProvisioningError
	assert.ErrorAs(t, err, &provisioning)
	assert.Equal(t, "tenant7", provisioning.DBName)
	assert.Equal(t, "42P04", provisioning.Code)
}

func TestLifecycleService_CreateSchemaInDB_EmptyDiffIsNoOp(t *testing.T) {
	svc, registry, connector := setupService(t)
	rec := onboarded(t, svc, registry, "tenant7", model.StatusCreated)

	db, mock := mockConn(t)
	// Target already carries the declared schema: no DDL may follow.
	mock.ExpectQuery("SELECT table_name, column_name FROM information_schema.columns").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}).
			AddRow("users", "id").AddRow("users", "email"))
	mock.ExpectClose()
	connector.dbs = append(connector.dbs, db)

	var switched []connswitch.SwitchEvent
	svc.Notifier().Subscribe(func(ctx context.Context, ev connswitch.SwitchEvent) error {
		switched = append(switched, ev)
		return nil
	})

	err := svc.CreateSchemaInDB(context.Background(), rec.ID)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	// No DDL means no status mutation.
	assert.Equal(t, model.StatusCreated, rec.DatabaseStatus)

	// The switch signal still fired before the diff.
	assert.Len(t, switched, 1)
	assert.Equal(t, rec.ID, switched[0].TenantID)
	assert.Equal(t, "sqlsrv://sa@127.0.0.1:1433", switched[0].DSN)
}

func TestLifecycleService_CreateSchemaInDB_AppliesDiffAndMarksMigrated(t *testing.T) {
	svc, registry, connector := setupService(t)
	rec := onboarded(t, svc, registry, "tenant7", model.StatusCreated)

	db, mock := mockConn(t)
	mock.ExpectQuery("SELECT table_name, column_name FROM information_schema.columns").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE [users]")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()
	connector.dbs = append(connector.dbs, db)

	err := svc.CreateSchemaInDB(context.Background(), rec.ID)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, model.StatusMigrated, rec.DatabaseStatus)

	// The tenant connection targets the tenant database itself.
	assert.Equal(t, []string{"sqlserver sqlserver://sa@127.0.0.1:1433?database=tenant7"}, connector.opened)
}

func TestLifecycleService_CreateSchemaInDB_NotifierErrorAborts(t *testing.T) {
	svc, registry, connector := setupService(t)
	rec := onboarded(t, svc, registry, "tenant7", model.StatusCreated)

	svc.Notifier().Subscribe(func(ctx context.Context, ev connswitch.SwitchEvent) error {
		return errors.New("resolver unavailable")
	})

	err := svc.CreateSchemaInDB(context.Background(), rec.ID)
	assert.Error(t, err)
	// The tenant connection is never opened when the switch is rejected.
	assert.Empty(t, connector.opened)
	assert.Equal(t, model.StatusCreated, rec.DatabaseStatus)
}

func TestLifecycleService_CreateSchemaInDB_UnknownTenant(t *testing.T) {
	svc, _, _ := setupService(t)

	err := svc.CreateSchemaInDB(context.Background(), uuid.New())
	var notFound *TenantNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestLifecycleService_DropDatabase(t *testing.T) {
	svc, _, connector := setupService(t)

	db, mock := mockConn(t)
	mock.ExpectQuery("SELECT name FROM sys.databases").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("tenant7"))
	mock.ExpectExec(regexp.QuoteMeta("DROP DATABASE [tenant7]")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()
	connector.dbs = append(connector.dbs, db)

	assert.NoError(t, svc.DropDatabase(context.Background(), "tenant7"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLifecycleService_DropDatabase_MissingIssuesNoDDL(t *testing.T) {
	svc, registry, connector := setupService(t)
	rec := onboarded(t, svc, registry, "tenant7", model.StatusCreated)

	db, mock := mockConn(t)
	mock.ExpectQuery("SELECT name FROM sys.databases").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("control"))
	mock.ExpectClose()
	connector.dbs = append(connector.dbs, db)

	err := svc.DropDatabase(context.Background(), "tenant7")
	var notFound *TenantNotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.Equal(t, "tenant7", notFound.DBName)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Drop never touches the registry; cleanup is the caller's job.
	assert.Equal(t, model.StatusCreated, rec.DatabaseStatus)
}

func TestLifecycleService_StatusListingsPartition(t *testing.T) {
	svc, registry, _ := setupService(t)
	ctx := context.Background()

	onboarded(t, svc, registry, "alpha", model.StatusNotCreated)
	onboarded(t, svc, registry, "bravo", model.StatusCreated)
	onboarded(t, svc, registry, "charlie", model.StatusMigrated)

	notCreated, err := svc.ListNotCreated(ctx)
	assert.NoError(t, err)
	assert.Len(t, notCreated, 1)
	assert.Equal(t, "alpha", notCreated[0].DBName)

	created, err := svc.ListCreated(ctx)
	assert.NoError(t, err)
	assert.Len(t, created, 1)
	assert.Equal(t, "bravo", created[0].DBName)

	migrated, err := svc.ListMigrated(ctx)
	assert.NoError(t, err)
	assert.Len(t, migrated, 1)
	assert.Equal(t, "charlie", migrated[0].DBName)
}

func TestLifecycleService_DefaultTenantDatabase(t *testing.T) {
	svc, registry, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.DefaultTenantDatabase(ctx)
	var noDefault *NoDefaultTenantError
	assert.ErrorAs(t, err, &noDefault)

	older := onboarded(t, svc, registry, "older", model.StatusCreated)
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	onboarded(t, svc, registry, "newer", model.StatusCreated)

	// With several candidates the earliest created_at wins.
	rec, err := svc.DefaultTenantDatabase(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "older", rec.DBName)
}
