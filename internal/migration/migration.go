package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	abusedomain "github.com/smallbiznis/karma/internal/abuse/domain"
	auditdomain "github.com/smallbiznis/karma/internal/audit/domain"
	disputedomain "github.com/smallbiznis/karma/internal/dispute/domain"
	identitydomain "github.com/smallbiznis/karma/internal/identity/domain"
	interactiondomain "github.com/smallbiznis/karma/internal/interaction/domain"
	ledgerdomain "github.com/smallbiznis/karma/internal/ledger/domain"
	oracledomain "github.com/smallbiznis/karma/internal/oracle/domain"
	"github.com/smallbiznis/karma/internal/ratelimit"
	ratingdomain "github.com/smallbiznis/karma/internal/rating/domain"
	scoredomain "github.com/smallbiznis/karma/internal/score/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// Models lists every table owned by the service, in dependency order.
func Models() []any {
	return []any{
		&identitydomain.Agent{},
		&interactiondomain.Interaction{},
		&ratingdomain.Sequence{},
		&ratingdomain.Rating{},
		&scoredomain.ScoreRecord{},
		&scoredomain.ScoreHistory{},
		&oracledomain.Summary{},
		&ledgerdomain.BalanceRecord{},
		&ledgerdomain.LedgerEntry{},
		&abusedomain.ViolationRecord{},
		&disputedomain.DisputeCase{},
		&ratelimit.Tracker{},
		&auditdomain.AuditLog{},
	}
}

// Migrate brings the schema up to date. Postgres runs the versioned SQL
// migrations; sqlite and mysql are created from the gorm models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}
