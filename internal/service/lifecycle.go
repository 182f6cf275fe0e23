// Package service orchestrates the tenant database lifecycle: physical
// creation and drop, schema synchronization, and the registry bookkeeping
// that tracks how far each tenant has progressed.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/tenant-db-manager/internal/connswitch"
	"github.com/teresa-solution/tenant-db-manager/internal/dsn"
	"github.com/teresa-solution/tenant-db-manager/internal/model"
	"github.com/teresa-solution/tenant-db-manager/internal/schema"
)

// Registry is the persistence capability the orchestrator needs from the
// control-plane store.
type Registry interface {
	Create(ctx context.Context, rec *model.TenantDatabase) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.TenantDatabase, error)
	GetByName(ctx context.Context, dbName string) (*model.TenantDatabase, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.DatabaseStatus) error
	ListByStatus(ctx context.Context, status model.DatabaseStatus) ([]*model.TenantDatabase, error)
	FindDefaultCreated(ctx context.Context) (*model.TenantDatabase, error)
	CreateProvisioningLog(ctx context.Context, id uuid.UUID, step, status string, details interface{}) error
}

// Connector opens the short-lived control and tenant connections the
// orchestrator needs. Every connection it hands out is scoped to one
// operation and closed on every exit path.
type Connector interface {
	Open(driverName, connString string) (*sql.DB, error)
}

type sqlConnector struct{}

func (sqlConnector) Open(driverName, connString string) (*sql.DB, error) {
	return sql.Open(driverName, connString)
}

// LifecycleService coordinates the registry, the schema manager adapter, and
// the connection switch notifier. One logical operation per call; callers
// serialize schema-sync invocations per worker.
type LifecycleService struct {
	registry  Registry
	metadata  schema.MetadataProvider
	notifier  *connswitch.Notifier
	connector Connector

	// Parameters of the current active server connection, parsed from the
	// base connection URL at construction.
	server dsn.ConnInfo
	driver model.DriverType
}

// NewLifecycleService parses the base connection URL (its database segment
// is only used for bootstrapping; it is never connected to here) and wires
// the orchestrator.
func NewLifecycleService(baseURL string, driver model.DriverType, registry Registry, metadata schema.MetadataProvider) (*LifecycleService, error) {
	info, err := dsn.ParseConnectionURL(baseURL)
	if err != nil {
		return nil, err
	}
	if !driver.Valid() {
		driver = model.DefaultDriver
	}
	return &LifecycleService{
		registry:  registry,
		metadata:  metadata,
		notifier:  connswitch.NewNotifier(),
		connector: sqlConnector{},
		server:    info,
		driver:    driver,
	}, nil
}

// Notifier exposes the connection switch signal so that downstream
// connection-resolution machinery can subscribe.
func (s *LifecycleService) Notifier() *connswitch.Notifier {
	return s.notifier
}

// CreateDatabase creates the physical database for a record, connecting at
// server level since the target does not exist yet. Returns the number of
// databases created (1 on success). Not idempotent by itself: creating an
// existing name fails; callers check registry status first.
func (s *LifecycleService) CreateDatabase(ctx context.Context, rec *model.TenantDatabase) (int, error) {
	driver := dsn.ResolveDriver(rec)
	info := dsn.ResolveTenantConn(rec)

	db, err := s.connector.Open(dsn.SQLDriverName(driver), dsn.ServerDSN(driver, info))
	if err != nil {
		return 0, &TenantProvisioningError{DBName: rec.DBName, Err: err}
	}
	defer db.Close()

	mgr := schema.NewManager(db, driver)
	if err := mgr.CreateDatabase(ctx, rec.DBName); err != nil {
		var creation *schema.DatabaseCreationError
		if errors.As(err, &creation) {
			return 0, &TenantProvisioningError{DBName: rec.DBName, Code: creation.Code, Err: err}
		}
		return 0, &TenantProvisioningError{DBName: rec.DBName, Err: err}
	}
	return 1, nil
}

// CreateSchemaInDB synchronizes the tenant's schema with the declared entity
// metadata. The connection switch signal is raised before the diff so that
// subscribers retarget to the tenant; an empty diff returns immediately with
// no DDL and no status mutation. Call only after CreateDatabase succeeded
// for this tenant; a missing database surfaces as a connection error.
func (s *LifecycleService) CreateSchemaInDB(ctx context.Context, tenantID uuid.UUID) error {
	rec, err := s.registry.GetByID(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load tenant database %s: %w", tenantID, err)
	}
	if rec == nil {
		return &TenantNotFoundError{DBName: tenantID.String()}
	}

	ev := connswitch.SwitchEvent{
		TenantID: rec.ID,
		DBName:   rec.DBName,
		DSN:      dsn.BuildTenantDSN(rec),
	}
	if err := s.notifier.Raise(ctx, ev); err != nil {
		return err
	}

	driver := dsn.ResolveDriver(rec)
	info := dsn.ResolveTenantConn(rec)
	db, err := s.connector.Open(dsn.SQLDriverName(driver), dsn.DriverDSN(driver, info, rec.DBName))
	if err != nil {
		return fmt.Errorf("connect to tenant database %q: %w", rec.DBName, err)
	}
	defer db.Close()

	mgr := schema.NewManager(db, driver)
	stmts, err := mgr.DiffSchema(ctx, s.metadata.Tables())
	if err != nil {
		return fmt.Errorf("diff schema for %q: %w", rec.DBName, err)
	}
	if len(stmts) == 0 {
		log.Debug().Str("database", rec.DBName).Msg("Schema already in sync, nothing to apply")
		return nil
	}

	if err := mgr.Apply(ctx, stmts); err != nil {
		return fmt.Errorf("apply schema for %q: %w", rec.DBName, err)
	}

	if rec.DatabaseStatus != model.StatusMigrated {
		if err := s.registry.UpdateStatus(ctx, rec.ID, model.StatusMigrated); err != nil {
			return fmt.Errorf("mark %q migrated: %w", rec.DBName, err)
		}
	}
	log.Info().Str("database", rec.DBName).Int("statements", len(stmts)).Msg("Tenant schema synchronized")
	return nil
}

// DropDatabase removes a physical database, using the current active
// connection's parameters to reach the server. A name absent from the server
// catalog fails with TenantNotFoundError before any destructive statement.
// The registry is never touched; status cleanup is the caller's job.
func (s *LifecycleService) DropDatabase(ctx context.Context, name string) error {
	db, err := s.connector.Open(dsn.SQLDriverName(s.driver), dsn.ServerDSN(s.driver, s.server))
	if err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}
	defer db.Close()

	mgr := schema.NewManager(db, s.driver)
	if err := mgr.DropDatabase(ctx, name); err != nil {
		var notFound *schema.DatabaseNotFoundError
		if errors.As(err, &notFound) {
			return &TenantNotFoundError{DBName: name}
		}
		return err
	}
	return nil
}

// OnboardDatabaseConfig is the lookup-or-create entry point keyed by
// dbName: idempotent, and the single path guaranteeing no duplicate registry
// rows for the same logical database name (the unique constraint on db_name
// is the guard against concurrent onboarding races).
func (s *LifecycleService) OnboardDatabaseConfig(ctx context.Context, dbName string) (uuid.UUID, error) {
	if dbName == "" {
		return uuid.Nil, fmt.Errorf("db name must not be empty")
	}

	existing, err := s.registry.GetByName(ctx, dbName)
	if err != nil {
		return uuid.Nil, fmt.Errorf("lookup %q: %w", dbName, err)
	}
	if existing != nil {
		return existing.ID, nil
	}

	rec := &model.TenantDatabase{
		DBName:         dbName,
		DriverType:     model.DefaultDriver,
		DatabaseStatus: model.StatusNotCreated,
	}
	if err := s.registry.Create(ctx, rec); err != nil {
		return uuid.Nil, fmt.Errorf("onboard %q: %w", dbName, err)
	}
	log.Info().Str("database", dbName).Str("id", rec.ID.String()).Msg("Tenant database onboarded")
	return rec.ID, nil
}

// ListNotCreated returns the records still awaiting physical creation.
func (s *LifecycleService) ListNotCreated(ctx context.Context) ([]*model.TenantDatabase, error) {
	return s.registry.ListByStatus(ctx, model.StatusNotCreated)
}

// ListCreated returns the records created but not yet migrated.
func (s *LifecycleService) ListCreated(ctx context.Context) ([]*model.TenantDatabase, error) {
	return s.registry.ListByStatus(ctx, model.StatusCreated)
}

// ListMigrated returns the fully provisioned records.
func (s *LifecycleService) ListMigrated(ctx context.Context) ([]*model.TenantDatabase, error) {
	return s.registry.ListByStatus(ctx, model.StatusMigrated)
}

// DefaultTenantDatabase returns the single record in created status treated
// as the default tenant database. When several exist the earliest created_at
// wins (id as tie-break); when none exists it fails with
// NoDefaultTenantError.
func (s *LifecycleService) DefaultTenantDatabase(ctx context.Context) (*model.TenantDatabase, error) {
	rec, err := s.registry.FindDefaultCreated(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NoDefaultTenantError{}
	}
	return rec, nil
}
