// Package schema wraps one live database connection with the DDL surface the
// lifecycle orchestrator needs: create/drop/list databases and reconcile a
// target's schema with declared table metadata.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/tenant-db-manager/internal/model"
)

// DatabaseCreationError wraps a server rejection of CREATE DATABASE,
// preserving the original driver error and its native code.
type DatabaseCreationError struct {
	Name string
	Code string
	Err  error
}

func (e *DatabaseCreationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("create database %q failed (code %s): %v", e.Name, e.Code, e.Err)
	}
	return fmt.Sprintf("create database %q failed: %v", e.Name, e.Err)
}

func (e *DatabaseCreationError) Unwrap() error { return e.Err }

// DatabaseNotFoundError indicates a drop was requested for a database absent
// from the server's catalog. No DDL has been attempted when it is returned.
type DatabaseNotFoundError struct {
	Name string
}

func (e *DatabaseNotFoundError) Error() string {
	return fmt.Sprintf("database %q not found on server", e.Name)
}

// Manager is the schema manager adapter: one instance per target connection.
// The caller owns the connection's lifetime.
type Manager struct {
	db     *sql.DB
	driver model.DriverType
}

func NewManager(db *sql.DB, driver model.DriverType) *Manager {
	return &Manager{db: db, driver: driver}
}

// CreateDatabase issues a create-database statement. The server rejecting it
// (already exists, insufficient privilege) surfaces as DatabaseCreationError
// carrying the driver's native error code.
func (m *Manager) CreateDatabase(ctx context.Context, name string) error {
	stmt := fmt.Sprintf("CREATE DATABASE %s", m.quoteIdent(name))
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return &DatabaseCreationError{Name: name, Code: driverCode(err), Err: err}
	}
	log.Info().Str("database", name).Str("driver", string(m.driver)).Msg("Database created")
	return nil
}

// ListDatabases returns the names of the databases present on the server,
// excluding engine-internal catalogs.
func (m *Manager) ListDatabases(ctx context.Context) ([]string, error) {
	var query string
	switch m.driver {
	case model.DriverMySQL:
		query = "SHOW DATABASES"
	case model.DriverPostgreSQL:
		query = "SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname"
	default:
		query = "SELECT name FROM sys.databases WHERE name NOT IN ('master', 'tempdb', 'model', 'msdb') ORDER BY name"
	}

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan database name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DropDatabase checks the server catalog first and fails with
// DatabaseNotFoundError before attempting any DDL when name is absent. The
// pre-check guards against inconsistent driver behavior for dropping a
// non-existent database.
func (m *Manager) DropDatabase(ctx context.Context, name string) error {
	names, err := m.ListDatabases(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, n := range names {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return &DatabaseNotFoundError{Name: name}
	}

	stmt := fmt.Sprintf("DROP DATABASE %s", m.quoteIdent(name))
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("drop database %q: %w", name, err)
	}
	log.Info().Str("database", name).Msg("Database dropped")
	return nil
}

// DiffSchema compares the declared tables against the target connection's
// catalog and returns the DDL statements needed to reconcile them. An empty
// result means the target is already in sync.
func (m *Manager) DiffSchema(ctx context.Context, tables []TableSpec) ([]string, error) {
	existing, err := m.existingColumns(ctx)
	if err != nil {
		return nil, err
	}

	var stmts []string
	for _, table := range tables {
		cols, ok := existing[strings.ToLower(table.Name)]
		if !ok {
			stmts = append(stmts, m.createTableDDL(table))
			continue
		}
		for _, col := range table.Columns {
			if _, ok := cols[strings.ToLower(col.Name)]; !ok {
				stmts = append(stmts, m.addColumnDDL(table.Name, col))
			}
		}
	}
	return stmts, nil
}

// ApplySchema executes the diff against the target. A no-change diff
// short-circuits without issuing any statement.
func (m *Manager) ApplySchema(ctx context.Context, tables []TableSpec) error {
	stmts, err := m.DiffSchema(ctx, tables)
	if err != nil {
		return err
	}
	if len(stmts) == 0 {
		return nil
	}
	return m.Apply(ctx, stmts)
}

// Apply executes previously computed DDL statements in order.
func (m *Manager) Apply(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %q: %w", stmt, err)
		}
	}
	log.Info().Int("statements", len(stmts)).Msg("Schema applied")
	return nil
}

// existingColumns introspects information_schema on the target connection,
// keyed by lowercased table then column name.
func (m *Manager) existingColumns(ctx context.Context) (map[string]map[string]struct{}, error) {
	var query string
	switch m.driver {
	case model.DriverMySQL:
		query = "SELECT table_name, column_name FROM information_schema.columns WHERE table_schema = DATABASE()"
	case model.DriverPostgreSQL:
		query = "SELECT table_name, column_name FROM information_schema.columns WHERE table_schema = 'public'"
	default:
		query = "SELECT table_name, column_name FROM information_schema.columns WHERE table_schema = 'dbo'"
	}

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("introspect schema: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]map[string]struct{})
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		table = strings.ToLower(table)
		if existing[table] == nil {
			existing[table] = make(map[string]struct{})
		}
		existing[table][strings.ToLower(column)] = struct{}{}
	}
	return existing, rows.Err()
}

func (m *Manager) createTableDDL(table TableSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (", m.quoteIdent(table.Name))
	for i, col := range table.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(m.columnDDL(col))
	}
	if len(table.PrimaryKey) > 0 {
		quoted := make([]string, len(table.PrimaryKey))
		for i, pk := range table.PrimaryKey {
			quoted[i] = m.quoteIdent(pk)
		}
		fmt.Fprintf(&b, ", PRIMARY KEY (%s)", strings.Join(quoted, ", "))
	}
	b.WriteString(")")
	return b.String()
}

func (m *Manager) addColumnDDL(tableName string, col ColumnSpec) string {
	// T-SQL takes ADD without the COLUMN keyword.
	if m.driver == model.DriverSQLServer {
		return fmt.Sprintf("ALTER TABLE %s ADD %s", m.quoteIdent(tableName), m.columnDDL(col))
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", m.quoteIdent(tableName), m.columnDDL(col))
}

func (m *Manager) columnDDL(col ColumnSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", m.quoteIdent(col.Name), col.Type)
	if !col.Nullable {
		b.WriteString(" NOT NULL")
	}
	if col.Default != "" {
		fmt.Fprintf(&b, " DEFAULT %s", col.Default)
	}
	return b.String()
}

func (m *Manager) quoteIdent(identifier string) string {
	switch m.driver {
	case model.DriverMySQL:
		return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
	case model.DriverPostgreSQL:
		return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
	default:
		return "[" + strings.ReplaceAll(identifier, "]", "]]") + "]"
	}
}

// driverCode extracts the engine-native error code so operators can diagnose
// rejections without re-running at higher verbosity.
func driverCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return strconv.FormatUint(uint64(myErr.Number), 10)
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return strconv.FormatInt(int64(msErr.Number), 10)
	}
	return ""
}
