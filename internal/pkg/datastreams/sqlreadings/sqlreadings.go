// Package sqlreadings archives meter readings in a SQL table and loads them
// back into a metrics store.
package sqlreadings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/ohowland/cgc_cim/internal/pkg/cim"
	"github.com/ohowland/cgc_cim/internal/pkg/metrics"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Drivers understood by Config.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite"
)

// Config is the JSON configuration of the readings database.
type Config struct {
	Driver   string `json:"Driver" yaml:"driver"`
	Server   string `json:"Server" yaml:"server"`
	Port     int    `json:"Port" yaml:"port"`
	Username string `json:"Username" yaml:"username"`
	Password string `json:"Password" yaml:"password"`
	Database string `json:"Database" yaml:"database"`
	Table    string `json:"Table" yaml:"table"`
}

// ReadConfig loads a Config from the JSON file at path.
func ReadConfig(path string) (Config, error) {
	jsonConfig, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) driver() string {
	if c.Driver == "" {
		return DriverMySQL
	}
	return c.Driver
}

func (c Config) table() string {
	if c.Table == "" {
		return "readings"
	}
	return c.Table
}

// DSN returns the data source name for the configured driver.
func (c Config) DSN() (string, error) {
	switch c.driver() {
	case DriverMySQL:
		m := mysql.NewConfig()
		m.User = c.Username
		m.Passwd = c.Password
		m.Net = "tcp"
		m.Addr = net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
		m.DBName = c.Database
		return m.FormatDSN(), nil
	case DriverPostgres, DriverPgx:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.Username, c.Password),
			Host:     net.JoinHostPort(c.Server, strconv.Itoa(c.Port)),
			Path:     "/" + c.Database,
			RawQuery: "sslmode=disable",
		}
		return u.String(), nil
	case DriverSQLite:
		return c.Database, nil
	}
	return "", fmt.Errorf("unsupported sql driver %q", c.Driver)
}

// Open opens the configured database.
func (c Config) Open() (*sql.DB, error) {
	dsn, err := c.DSN()
	if err != nil {
		return nil, err
	}
	return sql.Open(c.driver(), dsn)
}

// Loader moves readings between a SQL table and a metrics store.
type Loader struct {
	db     *sql.DB
	driver string
	table  string
	log    *zap.Logger
}

// NewLoader uses db, opened with cfg's driver.
func NewLoader(db *sql.DB, cfg Config, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{db: db, driver: cfg.driver(), table: cfg.table(), log: log.Named("sqlreadings")}
}

func (l *Loader) quotedTable() string {
	switch l.driver {
	case DriverPostgres, DriverPgx:
		return pq.QuoteIdentifier(l.table)
	case DriverMySQL:
		return "`" + strings.ReplaceAll(l.table, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(l.table, `"`, `""`) + `"`
}

// bind rewrites ? placeholders for drivers that number them.
func (l *Loader) bind(query string) string {
	if l.driver != DriverPostgres && l.driver != DriverPgx {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InitTables creates the readings table when it does not exist.
func (l *Loader) InitTables(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		meter_mrid VARCHAR(64) NOT NULL,
		meter_name VARCHAR(128),
		psr_id VARCHAR(64),
		ts BIGINT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		kind VARCHAR(32) NOT NULL,
		phase VARCHAR(8),
		unit VARCHAR(8)
	)`, l.quotedTable())
	_, err := l.db.ExecContext(ctx, stmt)
	return err
}

// Insert archives readings reported by one meter in a single transaction.
func (l *Loader) Insert(ctx context.Context, mrid, name, psrID string, readings []metrics.Reading) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, l.bind(fmt.Sprintf(
		`INSERT INTO %s (meter_mrid, meter_name, psr_id, ts, value, kind, phase, unit) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.quotedTable())))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx, mrid, name, psrID, r.Timestamp, r.Value, string(r.Kind), string(r.Phase), string(r.Unit)); err != nil {
			return fmt.Errorf("insert reading of %s at %d: %w", mrid, r.Timestamp, err)
		}
	}
	return tx.Commit()
}

// Load files every reading with from <= ts < to into store and returns how
// many were loaded. A zero to loads everything from from onward.
func (l *Loader) Load(ctx context.Context, store *metrics.Store, from, to int64) (int, error) {
	query := fmt.Sprintf(
		`SELECT meter_mrid, meter_name, psr_id, ts, value, kind, phase, unit FROM %s WHERE ts >= ?`,
		l.quotedTable())
	args := []any{from}
	if to != 0 {
		query += ` AND ts < ?`
		args = append(args, to)
	}
	query += ` ORDER BY ts`

	rows, err := l.db.QueryContext(ctx, l.bind(query), args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			mrid        string
			name, psr   sql.NullString
			phase, unit sql.NullString
			kind        string
			r           metrics.Reading
		)
		if err := rows.Scan(&mrid, &name, &psr, &r.Timestamp, &r.Value, &kind, &phase, &unit); err != nil {
			return n, err
		}
		r.Kind = metrics.ReadingKind(kind)
		r.Phase = cim.PhaseCode(phase.String)
		r.Unit = metrics.UnitSymbol(unit.String)
		store.StoreReading(mrid, name.String, psr.String, r)
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	l.log.Info("readings loaded", zap.Int("count", n), zap.Int64("from", from), zap.Int64("to", to))
	return n, nil
}
