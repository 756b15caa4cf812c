package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/brent-segner/gpu-demand-capacity-analytics/internal/structset"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/generator"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/models"
)

// Directory containing DB migrations.
const migrationsDir = "migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ref: https://stackoverflow.com/questions/1711631/improve-insert-per-second-performance-of-sqlite
var defaultDBOpts = map[string]string{
	"_busy_timeout": "5000",
	"_journal_mode": "MEMORY",
	"_synchronous":  "0",
}

func makeDSN(filePath string, opts map[string]string) string {
	optsSlice := make([]string, 0, len(opts))
	for opt, val := range opts {
		optsSlice = append(optsSlice, fmt.Sprintf("%s=%s", opt, val))
	}
	return fmt.Sprintf("file:%s?%s", filePath, strings.Join(optsSlice, "&"))
}

// OpenDB opens the SQLite file at path and applies pending migrations.
func OpenDB(path string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", makeDSN(path, defaultDBOpts))
	if err != nil {
		return nil, fmt.Errorf("failed to open DB file: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	if err := applyMigrations(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	if err := verifySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// tableSchema is the slice of the model row interface the schema check needs.
type tableSchema interface {
	TableName() string
	TagMap(keyTag string, valueTag string) map[string]string
}

// verifySchema compares the live table layout against the sqlitetype tags of
// the row structs, so a migration drifting away from the models fails at
// open time instead of on the first insert or query.
func verifySchema(db *sql.DB) error {
	for _, model := range []tableSchema{models.DemandRow{}, models.CapacityRow{}, models.NodepoolRow{}} {
		table := model.TableName()
		liveTypes, err := tableColumnTypes(db, table)
		if err != nil {
			return err
		}

		for col, declared := range model.TagMap("sql", "sqlitetype") {
			want := strings.ToLower(strings.Fields(declared)[0])
			got, ok := liveTypes[col]
			if !ok {
				return fmt.Errorf("table %s is missing column %s", table, col)
			}
			if got != want {
				return fmt.Errorf("table %s column %s has type %s, models declare %s", table, col, got, want)
			}
		}
	}
	return nil
}

func tableColumnTypes(db *sql.DB, table string) (map[string]string, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	types := make(map[string]string)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, declType   string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table info for %s: %w", table, err)
		}
		types[name] = strings.ToLower(declType)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	return types, nil
}

func applyMigrations(db *sql.DB, logger *slog.Logger) error {
	src, err := iofs.New(migrationsFS, migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	driver, err := migratesqlite3.WithInstance(db, &migratesqlite3.Config{})
	if err != nil {
		return fmt.Errorf("unable to create db instance: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("unable to create migration: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("unable to apply migrations: %w", err)
	}

	if version, dirty, err := migrator.Version(); err != nil {
		logger.Error("Failed to get DB migration version", "err", err)
	} else {
		logger.Debug("Current DB migration version", "version", version, "dirty", dirty)
	}
	return nil
}

// The id column is assigned by SQLite; inserts bind every other tagged
// column in struct declaration order.
const idColumn = "id"

func insertStatement(tableName string, cols []string) string {
	kept := make([]string, 0, len(cols))
	for _, col := range cols {
		if col != idColumn {
			kept = append(kept, col)
		}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(kept)), ",")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tableName, strings.Join(kept, ","), placeholders)
}

// bindValues pairs the sql-tagged fields of row with their column names and
// drops the id column. Timestamps are bound as RFC3339 UTC strings.
func bindValues(row any) []any {
	cols := structset.TagValues(row, "sql")
	vals := structset.FieldValues(row, "sql")

	bound := make([]any, 0, len(vals))
	for i, col := range cols {
		if col == idColumn {
			continue
		}
		if ts, ok := vals[i].(time.Time); ok {
			bound = append(bound, ts.UTC().Format(time.RFC3339))
			continue
		}
		bound = append(bound, vals[i])
	}
	return bound
}

// InsertDataset writes all three tables inside a single transaction so a
// failure midway leaves the DB empty rather than partially populated.
func InsertDataset(db *sql.DB, ds *generator.Dataset) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := make(map[string]*sql.Stmt, 3)
	for _, t := range []struct {
		name string
		cols []string
	}{
		{models.DemandRow{}.TableName(), models.DemandRow{}.TagNames("sql")},
		{models.CapacityRow{}.TableName(), models.CapacityRow{}.TagNames("sql")},
		{models.NodepoolRow{}.TableName(), models.NodepoolRow{}.TagNames("sql")},
	} {
		stmt, err := tx.Prepare(insertStatement(t.name, t.cols))
		if err != nil {
			return fmt.Errorf("failed to prepare insert for %s: %w", t.name, err)
		}
		defer stmt.Close()
		stmts[t.name] = stmt
	}

	for _, row := range ds.Demand {
		if _, err := stmts[row.TableName()].Exec(bindValues(row)...); err != nil {
			return fmt.Errorf("failed to insert demand row for %s: %w", row.QueueID, err)
		}
	}
	for _, row := range ds.Capacity {
		if _, err := stmts[row.TableName()].Exec(bindValues(row)...); err != nil {
			return fmt.Errorf("failed to insert capacity row for %s: %w", row.GPUUUID, err)
		}
	}
	for _, row := range ds.Nodepool {
		if _, err := stmts[row.TableName()].Exec(bindValues(row)...); err != nil {
			return fmt.Errorf("failed to insert nodepool row for %s: %w", row.Nodegroup, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
