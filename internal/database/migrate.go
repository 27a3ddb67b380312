package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteMigrationsFS embed.FS

// NewMigrator はPostgreSQLマイグレーション実行用のmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(postgresMigrationsFS, "migrations/postgres")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// NewSQLiteMigrator はSQLiteファイル用のmigrateインスタンスを生成する。
// pathはSQLiteのファイルパスを指定する。
func NewSQLiteMigrator(path string) (*migrate.Migrate, error) {
	source, err := iofs.New(sqliteMigrationsFS, "migrations/sqlite")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite://"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(driver, databaseURL string) error {
	dialect, err := DialectForDriver(driver)
	if err != nil {
		return err
	}

	var m *migrate.Migrate
	if dialect == DialectSQLite {
		m, err = NewSQLiteMigrator(databaseURL)
	} else {
		m, err = NewMigrator(databaseURL)
	}
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// ApplySQLiteMigrations は接続済みのSQLiteに埋め込みマイグレーションを適用する。
// 適用済みのバージョンはschema_migrationsに記録され、再実行時はスキップされる。
// dbは呼び出し元が所有し、この関数では閉じない。
func ApplySQLiteMigrations(db *sql.DB) error {
	return applySQLiteMigrations(db, sqliteMigrationsFS, "migrations/sqlite")
}

func applySQLiteMigrations(db *sql.DB, migrationFS fs.FS, root string) error {
	source, err := iofs.New(migrationFS, root)
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	defer source.Close()

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migration driver: %w", err)
	}

	// m.Close()はdriver経由でdbを閉じるため呼ばない
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply sqlite migrations: %w", err)
	}

	return nil
}
