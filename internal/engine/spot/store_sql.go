package spot

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"spot_trader/internal/core"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

var schemas = map[string]string{
	DriverSQLite: `CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	stop_loss TEXT NOT NULL,
	take_profit TEXT NOT NULL,
	exit_price TEXT,
	result TEXT NOT NULL DEFAULT '',
	order_id TEXT NOT NULL DEFAULT '',
	checksum TEXT NOT NULL
)`,
	DriverMySQL: `CREATE TABLE IF NOT EXISTS trades (
	id BIGINT PRIMARY KEY AUTO_INCREMENT,
	ts VARCHAR(40) NOT NULL,
	symbol VARCHAR(32) NOT NULL,
	side VARCHAR(8) NOT NULL,
	quantity VARCHAR(64) NOT NULL,
	entry_price VARCHAR(64) NOT NULL,
	stop_loss VARCHAR(64) NOT NULL,
	take_profit VARCHAR(64) NOT NULL,
	exit_price VARCHAR(64) NULL,
	result VARCHAR(32) NOT NULL DEFAULT '',
	order_id VARCHAR(64) NOT NULL DEFAULT '',
	checksum CHAR(64) NOT NULL
)`,
}

const selectColumns = `id, ts, symbol, side, quantity, entry_price, stop_loss, take_profit, exit_price, result, order_id, checksum`

// SQLStore is the trade log backed by SQLite or MySQL. Each row carries a
// checksum over its content that is verified on read.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore opens the trade log and creates the schema if needed.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == DriverSQLite {
		// Enable WAL mode for crash recovery
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLStore{db: db, driver: driver}, nil
}

// NewSQLiteStore opens a SQLite trade log at path
func NewSQLiteStore(path string) (*SQLStore, error) {
	return NewSQLStore(DriverSQLite, path)
}

func (s *SQLStore) AppendTrade(ctx context.Context, rec core.TradeRecord) (core.TradeRecord, error) {
	row := toRow(rec)

	query := `INSERT INTO trades (ts, symbol, side, quantity, entry_price, stop_loss, take_profit, exit_price, result, order_id, checksum)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		row.ts, row.symbol, row.side, row.quantity, row.entry, row.stop, row.take,
		row.exit, row.result, row.orderID, row.checksum())
	if err != nil {
		return rec, fmt.Errorf("failed to insert trade: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return rec, fmt.Errorf("failed to read trade id: %w", err)
	}
	rec.ID = id
	return rec, nil
}

func (s *SQLStore) ListTrades(ctx context.Context, limit int) ([]core.TradeRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+selectColumns+` FROM (SELECT `+selectColumns+` FROM trades ORDER BY id DESC LIMIT ?) recent ORDER BY id ASC`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM trades ORDER BY id ASC`)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []core.TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trades: %w", err)
	}
	return out, nil
}

func (s *SQLStore) LastTrade(ctx context.Context) (*core.TradeRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM trades ORDER BY id DESC LIMIT 1`)
	rec, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

type tradeRow struct {
	id       int64
	ts       string
	symbol   string
	side     string
	quantity string
	entry    string
	stop     string
	take     string
	exit     sql.NullString
	result   string
	orderID  string
}

func toRow(rec core.TradeRecord) tradeRow {
	r := tradeRow{
		ts:       rec.Timestamp.UTC().Format(time.RFC3339Nano),
		symbol:   rec.Symbol,
		side:     string(rec.Side),
		quantity: rec.Quantity.String(),
		entry:    rec.EntryPrice.String(),
		stop:     rec.StopLossPrice.String(),
		take:     rec.TakeProfitPrice.String(),
		result:   string(rec.Result),
		orderID:  rec.OrderID,
	}
	if rec.ExitPrice.Valid {
		r.exit = sql.NullString{String: rec.ExitPrice.Decimal.String(), Valid: true}
	}
	return r
}

func (r tradeRow) checksum() string {
	exit := ""
	if r.exit.Valid {
		exit = r.exit.String
	}
	payload := strings.Join([]string{
		r.ts, r.symbol, r.side, r.quantity, r.entry, r.stop, r.take, exit, r.result, r.orderID,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func scanTrade(sc scanner) (core.TradeRecord, error) {
	var (
		r      tradeRow
		stored string
	)
	if err := sc.Scan(&r.id, &r.ts, &r.symbol, &r.side, &r.quantity, &r.entry, &r.stop, &r.take,
		&r.exit, &r.result, &r.orderID, &stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.TradeRecord{}, err
		}
		return core.TradeRecord{}, fmt.Errorf("failed to scan trade: %w", err)
	}

	if stored != r.checksum() {
		return core.TradeRecord{}, fmt.Errorf("checksum verification failed for trade %d: data corruption detected", r.id)
	}

	return r.record()
}

func (r tradeRow) record() (core.TradeRecord, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.ts)
	if err != nil {
		return core.TradeRecord{}, fmt.Errorf("trade %d: bad timestamp: %w", r.id, err)
	}

	parse := func(field, v string) (decimal.Decimal, error) {
		dv, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("trade %d: bad %s: %w", r.id, field, err)
		}
		return dv, nil
	}

	rec := core.TradeRecord{
		ID:        r.id,
		Timestamp: ts,
		Symbol:    r.symbol,
		Side:      core.Side(r.side),
		Result:    core.ExitReason(r.result),
		OrderID:   r.orderID,
	}
	if rec.Quantity, err = parse("quantity", r.quantity); err != nil {
		return core.TradeRecord{}, err
	}
	if rec.EntryPrice, err = parse("entry_price", r.entry); err != nil {
		return core.TradeRecord{}, err
	}
	if rec.StopLossPrice, err = parse("stop_loss", r.stop); err != nil {
		return core.TradeRecord{}, err
	}
	if rec.TakeProfitPrice, err = parse("take_profit", r.take); err != nil {
		return core.TradeRecord{}, err
	}
	if r.exit.Valid {
		exit, err := parse("exit_price", r.exit.String)
		if err != nil {
			return core.TradeRecord{}, err
		}
		rec.ExitPrice = decimal.NewNullDecimal(exit)
	}
	return rec, nil
}
