package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/quantops/vixroll/internal/models"
)

// Tables names the three persistent tables. Names come from configuration
// and may contain dots (e.g. "Quotes.EOD"), so they are always quoted.
type Tables struct {
	Quotes     string
	Securities string
	Orders     string
}

// SQLiteStore is the sqlite-backed implementation of Interface.
type SQLiteStore struct {
	db     *sql.DB
	tables Tables
	ledger *Ledger
	logger *log.Logger
	now    func() time.Time
	newID  func() string
}

var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)

func quoteIdent(name string) (string, error) {
	if !identifierRe.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return `"` + name + `"`, nil
}

// NewSQLiteStore opens (and if necessary initialises) the database at path.
func NewSQLiteStore(path string, tables Tables, logger *log.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "store: ", log.LstdFlags)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	// Serialized writes; the PENDING predicate does the real work but
	// sqlite still needs a single writer.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		tables: tables,
		ledger: NewLedger(),
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	quotes, err := quoteIdent(s.tables.Quotes)
	if err != nil {
		return err
	}
	securities, err := quoteIdent(s.tables.Securities)
	if err != nil {
		return err
	}
	orders, err := quoteIdent(s.tables.Orders)
	if err != nil {
		return err
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT NOT NULL,
			date   TEXT NOT NULL,
			close  TEXT NOT NULL,
			PRIMARY KEY (symbol, date)
		)`, quotes),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			symbol          TEXT NOT NULL,
			broker          TEXT NOT NULL,
			trading_enabled INTEGER NOT NULL DEFAULT 0,
			name            TEXT NOT NULL DEFAULT '',
			market_group    TEXT NOT NULL DEFAULT '',
			risk_factor     REAL NOT NULL DEFAULT 0,
			max_position    INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, broker)
		)`, securities),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			order_id         TEXT NOT NULL,
			transaction_time TEXT NOT NULL,
			symbol           TEXT NOT NULL,
			broker           TEXT NOT NULL,
			maturity         TEXT NOT NULL,
			product_type     TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL,
			side             TEXT NOT NULL,
			size             INTEGER NOT NULL,
			ord_type         TEXT NOT NULL,
			stop_distance    INTEGER NOT NULL DEFAULT 0,
			strategy_name    TEXT NOT NULL DEFAULT '',
			strategy_reason  TEXT NOT NULL DEFAULT '',
			trade_json       TEXT,
			PRIMARY KEY (order_id, transaction_time)
		)`, orders),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initialising schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetQuote returns the EOD quote for (symbol, date), nil when absent.
func (s *SQLiteStore) GetQuote(ctx context.Context, symbol, date string) (*models.Quote, error) {
	table, err := quoteIdent(s.tables.Quotes)
	if err != nil {
		return nil, err
	}
	var closeStr string
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT close FROM %s WHERE symbol = ? AND date = ?`, table), symbol, date)
	if err := row.Scan(&closeStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying quote %s/%s: %w", symbol, date, err)
	}
	close, err := decimal.NewFromString(closeStr)
	if err != nil {
		return nil, fmt.Errorf("quote %s/%s has bad close %q: %w", symbol, date, closeStr, err)
	}
	return &models.Quote{Symbol: symbol, Date: date, Close: close}, nil
}

// PutQuote writes an EOD quote. Used by backfills and tests; the workers
// only ever read quotes.
func (s *SQLiteStore) PutQuote(ctx context.Context, q *models.Quote) error {
	table, err := quoteIdent(s.tables.Quotes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR REPLACE INTO %s (symbol, date, close) VALUES (?, ?, ?)`, table),
		q.Symbol, q.Date, q.Close.String())
	if err != nil {
		return fmt.Errorf("writing quote %s/%s: %w", q.Symbol, q.Date, err)
	}
	return nil
}

// GetSecurities scans the security master once and filters to the union of
// the requested keys.
func (s *SQLiteStore) GetSecurities(ctx context.Context, keys []SecurityKey) ([]models.Security, error) {
	table, err := quoteIdent(s.tables.Securities)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT symbol, broker, trading_enabled, name, market_group, risk_factor, max_position FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("scanning securities: %w", err)
	}
	defer rows.Close()

	wanted := make(map[SecurityKey]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}

	out := []models.Security{}
	for rows.Next() {
		var sec models.Security
		var enabled int
		if err := rows.Scan(&sec.Symbol, &sec.Broker, &enabled,
			&sec.Description.Name, &sec.Description.MarketGroup,
			&sec.Risk.RiskFactor, &sec.Risk.MaxPosition); err != nil {
			return nil, fmt.Errorf("scanning security row: %w", err)
		}
		sec.TradingEnabled = enabled != 0
		if wanted[SecurityKey{Symbol: sec.Symbol, Broker: sec.Broker}] {
			out = append(out, sec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning securities: %w", err)
	}
	return out, nil
}

// PutSecurity writes a security-master row. Mutated out-of-band in
// production; exposed for provisioning scripts and tests.
func (s *SQLiteStore) PutSecurity(ctx context.Context, sec *models.Security) error {
	table, err := quoteIdent(s.tables.Securities)
	if err != nil {
		return err
	}
	enabled := 0
	if sec.TradingEnabled {
		enabled = 1
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT OR REPLACE INTO %s (symbol, broker, trading_enabled, name, market_group, risk_factor, max_position)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`, table),
		sec.Symbol, sec.Broker, enabled, sec.Description.Name, sec.Description.MarketGroup,
		sec.Risk.RiskFactor, sec.Risk.MaxPosition)
	if err != nil {
		return fmt.Errorf("writing security %s/%s: %w", sec.Symbol, sec.Broker, err)
	}
	return nil
}

// GetOrdersBySymbolBroker returns every order for (symbol, broker).
func (s *SQLiteStore) GetOrdersBySymbolBroker(ctx context.Context, symbol, broker string) ([]models.Order, error) {
	table, err := quoteIdent(s.tables.Orders)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT order_id, transaction_time, symbol, broker, maturity, product_type, status,
		        side, size, ord_type, stop_distance, strategy_name, strategy_reason, trade_json
		 FROM %s WHERE symbol = ? AND broker = ?
		 ORDER BY transaction_time`, table), symbol, broker)
	if err != nil {
		return nil, fmt.Errorf("querying orders %s/%s: %w", symbol, broker, err)
	}
	defer rows.Close()

	out := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying orders %s/%s: %w", symbol, broker, err)
	}
	return out, nil
}

// GetOrder returns a single order by its full key, nil when absent.
func (s *SQLiteStore) GetOrder(ctx context.Context, orderID, transactionTime string) (*models.Order, error) {
	table, err := quoteIdent(s.tables.Orders)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT order_id, transaction_time, symbol, broker, maturity, product_type, status,
		        side, size, ord_type, stop_distance, strategy_name, strategy_reason, trade_json
		 FROM %s WHERE order_id = ? AND transaction_time = ?`, table), orderID, transactionTime)
	if err != nil {
		return nil, fmt.Errorf("querying order %s: %w", orderID, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanOrder(rows)
}

func scanOrder(rows *sql.Rows) (*models.Order, error) {
	var o models.Order
	var tradeJSON sql.NullString
	if err := rows.Scan(&o.OrderID, &o.TransactionTime, &o.Symbol, &o.Broker,
		&o.Maturity, &o.ProductType, &o.Status,
		&o.Details.Side, &o.Details.Size, &o.Details.OrdType, &o.Details.StopDistance,
		&o.Strategy.Name, &o.Strategy.Reason, &tradeJSON); err != nil {
		return nil, fmt.Errorf("scanning order row: %w", err)
	}
	if tradeJSON.Valid && tradeJSON.String != "" {
		var t models.Trade
		if err := json.Unmarshal([]byte(tradeJSON.String), &t); err != nil {
			return nil, fmt.Errorf("order %s has bad trade payload: %w", o.OrderID, err)
		}
		o.Trade = &t
	}
	return &o, nil
}

// CreateOrder persists a new order, generating its key. The caller's struct
// is updated with the generated OrderID and TransactionTime.
func (s *SQLiteStore) CreateOrder(ctx context.Context, o *models.Order) error {
	table, err := quoteIdent(s.tables.Orders)
	if err != nil {
		return err
	}
	if o.OrderID == "" {
		o.OrderID = s.newID()
	}
	if o.TransactionTime == "" {
		o.TransactionTime = strconv.FormatInt(s.now().Unix(), 10)
	}
	if o.Status == "" {
		o.Status = models.StatusPending
	}
	if err := o.Validate(); err != nil {
		return err
	}

	var tradeJSON any
	if o.Trade != nil {
		data, err := json.Marshal(o.Trade)
		if err != nil {
			return fmt.Errorf("encoding trade for order %s: %w", o.OrderID, err)
		}
		tradeJSON = string(data)
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (order_id, transaction_time, symbol, broker, maturity, product_type, status,
		                 side, size, ord_type, stop_distance, strategy_name, strategy_reason, trade_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table),
		o.OrderID, o.TransactionTime, o.Symbol, o.Broker, o.Maturity, o.ProductType, o.Status,
		o.Details.Side, o.Details.Size, o.Details.OrdType, o.Details.StopDistance,
		o.Strategy.Name, o.Strategy.Reason, tradeJSON)
	if err != nil {
		return fmt.Errorf("creating order %s: %w", o.OrderID, err)
	}
	s.logger.Printf("Created %s order %s %s %d %s maturity %s",
		o.Status, o.OrderID, o.Details.Side, o.Details.Size, o.Symbol, o.Maturity)
	return nil
}

// SettleOrder transitions an order out of PENDING with a conditional update.
// A false return means the predicate failed: the order was already settled.
func (s *SQLiteStore) SettleOrder(ctx context.Context, orderID, transactionTime string, status models.OrderStatus, trade *models.Trade) (bool, error) {
	if !models.CanTransition(models.StatusPending, status) {
		return false, fmt.Errorf("illegal settlement status %q for order %s", status, orderID)
	}

	table, err := quoteIdent(s.tables.Orders)
	if err != nil {
		return false, err
	}
	var tradeJSON any
	if trade != nil {
		data, err := json.Marshal(trade)
		if err != nil {
			return false, fmt.Errorf("encoding trade for order %s: %w", orderID, err)
		}
		tradeJSON = string(data)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET status = ?, trade_json = ?
		 WHERE order_id = ? AND transaction_time = ? AND status = ?`, table),
		status, tradeJSON, orderID, transactionTime, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("settling order %s: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("settling order %s: %w", orderID, err)
	}
	if n == 0 {
		s.logger.Printf("Order %s already settled, %s write ignored", orderID, status)
		return false, nil
	}
	s.logger.Printf("Order %s settled as %s", orderID, status)
	return true, nil
}

// LedgerHas reports whether the ledger file at key contains the line.
func (s *SQLiteStore) LedgerHas(key, line string) (bool, error) {
	return s.ledger.Has(key, line)
}

// LedgerAppend appends a line to the ledger file at key.
func (s *SQLiteStore) LedgerAppend(key, line string) error {
	return s.ledger.Append(key, line)
}
