package quota

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLStore persists counters in SQLite so usage survives restarts.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (or creates) the quota database at path, applying
// WAL and busy-timeout pragmas and any pending migrations.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open quota db %s: %w", path, err)
	}

	// Single-writer: only one connection needed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}

	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func migrateDB(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("quota migrate: init source: %w", err)
	}
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("quota migrate: init db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("quota migrate: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("quota migrate: up: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ip, date string) (int64, error) {
	var count int64
	err := s.db.QueryRow(
		`SELECT count FROM ip_limits WHERE ip = ? AND date = ?`, ip, date,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota get %s/%s: %w", ip, date, err)
	}
	return count, nil
}

func (s *SQLStore) Increment(ip, date string) (int64, error) {
	var count int64
	err := s.db.QueryRow(
		`INSERT INTO ip_limits (ip, date, count) VALUES (?, ?, 1)
		 ON CONFLICT(ip, date) DO UPDATE SET count = count + 1
		 RETURNING count`, ip, date,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("quota increment %s/%s: %w", ip, date, err)
	}
	return count, nil
}

func (s *SQLStore) Reset(ip string) error {
	if _, err := s.db.Exec(`DELETE FROM ip_limits WHERE ip = ?`, ip); err != nil {
		return fmt.Errorf("quota reset %s: %w", ip, err)
	}
	return nil
}

func (s *SQLStore) ResetAll() error {
	if _, err := s.db.Exec(`DELETE FROM ip_limits`); err != nil {
		return fmt.Errorf("quota reset all: %w", err)
	}
	return nil
}

func (s *SQLStore) ListTop(date string, n int) ([]IPCount, error) {
	rows, err := s.db.Query(
		`SELECT ip, count FROM ip_limits WHERE date = ?
		 ORDER BY count DESC LIMIT ?`, date, n)
	if err != nil {
		return nil, fmt.Errorf("quota list %s: %w", date, err)
	}
	defer rows.Close()

	var out []IPCount
	for rows.Next() {
		c := IPCount{Date: date}
		if err := rows.Scan(&c.IP, &c.Count); err != nil {
			return nil, fmt.Errorf("quota scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) Totals(date string) (int64, int64, error) {
	var requests, ips sql.NullInt64
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(count), 0), COUNT(*) FROM ip_limits WHERE date = ?`, date,
	).Scan(&requests, &ips)
	if err != nil {
		return 0, 0, fmt.Errorf("quota totals %s: %w", date, err)
	}
	return requests.Int64, ips.Int64, nil
}

func (s *SQLStore) CleanupBefore(date string) error {
	if _, err := s.db.Exec(`DELETE FROM ip_limits WHERE date < ?`, date); err != nil {
		return fmt.Errorf("quota cleanup before %s: %w", date, err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }
