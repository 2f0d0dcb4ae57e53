package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Manifest 记录某个 symbol 本地数据文件的统计信息。
type Manifest struct {
	Symbol     string `json:"symbol"`
	MinDate    string `json:"min_date"`
	MaxDate    string `json:"max_date"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// Store 是本地日 K 缓存：每个 symbol 一个 sqlite 文件（WAL）。
// 回测把它当历史数据仓，在线模式把它当读穿缓存的落地层。
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(symbol string) (*sql.DB, string, error) {
	if symbol == "" {
		return nil, "", fmt.Errorf("symbol 不能为空")
	}
	key := strings.ToUpper(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, s.dbPath(symbol), nil
	}
	path := s.dbPath(symbol)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, key); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *Store) dbPath(symbol string) string {
	return filepath.Join(s.root, strings.ToUpper(symbol), "daily.db")
}

func ensureSchema(db *sql.DB, symbol string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			date       TEXT PRIMARY KEY,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     REAL NOT NULL,
			adj_close  REAL NOT NULL,
			chg        REAL DEFAULT 0,
			percent    REAL DEFAULT 0,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			min_date TEXT,
			max_date TEXT,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
		`INSERT INTO manifest (id, symbol) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol;`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = db.Exec(stmt, symbol)
		} else {
			_, err = db.Exec(stmt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertBars 批量写入日 K（重复 date 将被覆盖）。
func (s *Store) InsertBars(ctx context.Context, symbol string, bars []Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	db, _, err := s.db(symbol)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (date, open, high, low, close, volume, adj_close, chg, percent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume,
		    adj_close=excluded.adj_close,
		    chg=excluded.chg,
		    percent=excluded.percent`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, b := range bars {
		if b.Date == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume, b.AdjClose, b.Chg, b.Percent); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshManifest(ctx, db); err != nil {
		return count, err
	}
	return count, nil
}

func (s *Store) refreshManifest(ctx context.Context, db *sql.DB) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_date = (SELECT COALESCE(MIN(date), '') FROM bars),
		    max_date = (SELECT COALESCE(MAX(date), '') FROM bars),
		    rows = (SELECT COUNT(1) FROM bars),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}

func (s *Store) Manifest(ctx context.Context, symbol string) (Manifest, error) {
	db, path, err := s.db(symbol)
	if err != nil {
		return Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT symbol, COALESCE(min_date,''), COALESCE(max_date,''), rows, COALESCE(last_sync_at,0) FROM manifest WHERE id=1`)
	var m Manifest
	if err := row.Scan(&m.Symbol, &m.MinDate, &m.MaxDate, &m.Rows, &m.LastSyncAt); err != nil {
		return Manifest{}, err
	}
	m.Path = path
	return m, nil
}

// Bar 读取指定交易日的日 K；缺数据返回 ErrNoData。
func (s *Store) Bar(ctx context.Context, symbol, date string) (Bar, error) {
	db, _, err := s.db(symbol)
	if err != nil {
		return Bar{}, err
	}
	row := db.QueryRowContext(ctx, `
		SELECT date, open, high, low, close, volume, adj_close, chg, percent
		FROM bars WHERE date = ?`, date)
	b := Bar{Symbol: strings.ToUpper(symbol)}
	err = row.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.AdjClose, &b.Chg, &b.Percent)
	if errors.Is(err, sql.ErrNoRows) {
		return Bar{}, fmt.Errorf("%w: %s@%s", ErrNoData, symbol, date)
	}
	if err != nil {
		return Bar{}, err
	}
	return b, nil
}

// Dates 返回 minDate（含）起的升序交易日列表。
func (s *Store) Dates(ctx context.Context, symbol, minDate string) ([]string, error) {
	db, _, err := s.db(symbol)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT date FROM bars WHERE date >= ? ORDER BY date ASC`, minDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PreviousDate 返回 date 之前最近的交易日；没有更早数据时返回 ""。
func (s *Store) PreviousDate(ctx context.Context, symbol, date string) (string, error) {
	db, _, err := s.db(symbol)
	if err != nil {
		return "", err
	}
	row := db.QueryRowContext(ctx, `SELECT date FROM bars WHERE date < ? ORDER BY date DESC LIMIT 1`, date)
	var d string
	err = row.Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return d, nil
}

// RangeBars 返回 [start, end] 的日 K（升序）。
func (s *Store) RangeBars(ctx context.Context, symbol, start, end string) ([]Bar, error) {
	db, _, err := s.db(symbol)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume, adj_close, chg, percent
		FROM bars WHERE date BETWEEN ? AND ? ORDER BY date ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	upper := strings.ToUpper(symbol)
	var list []Bar
	for rows.Next() {
		b := Bar{Symbol: upper}
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.AdjClose, &b.Chg, &b.Percent); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

// TailBars 返回 date（含）之前最近的 n 根日 K（升序），供均线类策略取窗口。
func (s *Store) TailBars(ctx context.Context, symbol, date string, n int) ([]Bar, error) {
	if n <= 0 {
		return nil, nil
	}
	db, _, err := s.db(symbol)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume, adj_close, chg, percent
		FROM bars WHERE date <= ? ORDER BY date DESC LIMIT ?`, date, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	upper := strings.ToUpper(symbol)
	var list []Bar
	for rows.Next() {
		b := Bar{Symbol: upper}
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.AdjClose, &b.Chg, &b.Percent); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}
