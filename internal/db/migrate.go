// Migration runner, grounded on the goose usage in the kubernaut
// example repo's integration-test harness (it applies these same
// "-- +goose Up"/"-- +goose Down" marked files, there by hand-parsing
// them; here through goose's own Go API against an embedded FS).
package db

import (
	"database/sql"
	"embed"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending migration in migrations/ to dbURL. It
// opens its own database/sql connection (goose operates on *sql.DB, not
// the pgxpool.Pool the rest of the application uses) and closes it
// before returning.
func Migrate(dbURL string) error {
	sqlDB, err := sql.Open("pgx", dbURL)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.Up(sqlDB, "migrations")
}
