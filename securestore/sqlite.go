package securestore

import (
	"context"
	"database/sql"
	"embed"
	stderrors "errors"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore keeps values in a single-table SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at dsn and applies
// any pending migrations.
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One writer keeps delete-then-insert free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "migration driver")
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "migration source")
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return errors.Wrap(err, "migration instance")
	}

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(
		context.Background(),
		`SELECT value FROM secrets WHERE key = ?`,
		key,
	).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select secret")
	}
	return value, nil
}

func (s *SQLiteStore) Put(key string, value []byte) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key); err != nil {
		return errors.Wrap(err, "delete secret")
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO secrets (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
		key, value,
	); err != nil {
		return errors.Wrap(err, "insert secret")
	}

	return errors.Wrap(tx.Commit(), "commit secret")
}

func (s *SQLiteStore) Delete(key string) error {
	_, err := s.db.ExecContext(context.Background(), `DELETE FROM secrets WHERE key = ?`, key)
	return errors.Wrap(err, "delete secret")
}
