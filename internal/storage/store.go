// Package storage persists alerts, cart snapshots, query caches and
// encrypted credentials in a local SQLite database.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

// AlertState tracks what the user has done with an alert.
type AlertState string

const (
	AlertPending   AlertState = "pending"
	AlertReviewed  AlertState = "reviewed"
	AlertPurchased AlertState = "purchased"
	AlertRejected  AlertState = "rejected"
)

// Alert is one saved arbitrage opportunity.
type Alert struct {
	ID             int64
	ItemID         string
	Title          string
	Query          string
	PriceJPY       float64
	ImageURL       string
	ListingURL     string
	Similarity     float64
	MatchCount     int
	AveragePrice   float64
	ExpectedProfit float64
	State          AlertState
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AlertFilter narrows ListAlerts. Zero values mean "no constraint".
type AlertFilter struct {
	State         AlertState
	MinSimilarity float64
	MinProfit     float64
	Limit         uint64
}

// CartItem is a snapshot row of the marketplace cart.
type CartItem struct {
	ItemID   string
	Title    string
	Keyword  string
	PriceJPY float64
	Status   string
	ImageURL string
}

// Store is the persistence interface the rest of the program depends on.
type Store interface {
	SaveAlert(alert Alert) (int64, error)
	GetAlert(id int64) (*Alert, error)
	ListAlerts(filter AlertFilter) ([]Alert, error)
	UpdateAlertState(id int64, state AlertState) error
	UpdateAlertVerification(id int64, matchCount int, averagePrice, expectedProfit float64) error
	ReplaceCart(items []CartItem) error
	GetCart() ([]CartItem, error)
	GetQueryCache(key string) (string, bool, error)
	SetQueryCache(key, value string) error
	SetCredential(name, value string) error
	GetCredential(name string) (string, error)
	Close() error
}

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	key []byte
}

// NewSQLiteStore opens (creating if needed) the database at path. The
// encryption key protects credential values; pass nil to disable
// credential storage.
func NewSQLiteStore(path string, key []byte) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db, key: key}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	// The database holds credentials, keep it private to the user.
	if err := os.Chmod(path, 0o600); err != nil {
		return nil, fmt.Errorf("failed to restrict database permissions: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			item_id TEXT NOT NULL,
			title TEXT NOT NULL,
			query TEXT NOT NULL,
			price_jpy REAL NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			listing_url TEXT NOT NULL DEFAULT '',
			similarity REAL NOT NULL DEFAULT 0,
			match_count INTEGER NOT NULL DEFAULT 0,
			average_price REAL NOT NULL DEFAULT 0,
			expected_profit REAL NOT NULL DEFAULT 0,
			state TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS cart_items (
			item_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			keyword TEXT NOT NULL DEFAULT '',
			price_jpy REAL NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS query_cache (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveAlert(alert Alert) (int64, error) {
	state := alert.State
	if state == "" {
		state = AlertPending
	}
	res, err := s.db.Exec(
		`INSERT INTO alerts
			(item_id, title, query, price_jpy, image_url, listing_url,
			 similarity, match_count, average_price, expected_profit, state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ItemID, alert.Title, alert.Query, alert.PriceJPY,
		alert.ImageURL, alert.ListingURL, alert.Similarity,
		alert.MatchCount, alert.AveragePrice, alert.ExpectedProfit, state,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save alert: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetAlert(id int64) (*Alert, error) {
	row := s.db.QueryRow(
		`SELECT id, item_id, title, query, price_jpy, image_url, listing_url,
			similarity, match_count, average_price, expected_profit, state,
			created_at, updated_at
		 FROM alerts WHERE id = ?`, id)

	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

func (s *SQLiteStore) ListAlerts(filter AlertFilter) ([]Alert, error) {
	builder := sq.Select(
		"id", "item_id", "title", "query", "price_jpy", "image_url",
		"listing_url", "similarity", "match_count", "average_price",
		"expected_profit", "state", "created_at", "updated_at",
	).From("alerts").OrderBy("created_at DESC")

	if filter.State != "" {
		builder = builder.Where(sq.Eq{"state": filter.State})
	}
	if filter.MinSimilarity > 0 {
		builder = builder.Where(sq.GtOrEq{"similarity": filter.MinSimilarity})
	}
	if filter.MinProfit > 0 {
		builder = builder.Where(sq.GtOrEq{"expected_profit": filter.MinProfit})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build alert query: %w", err)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

func (s *SQLiteStore) UpdateAlertState(id int64, state AlertState) error {
	res, err := s.db.Exec(
		`UPDATE alerts SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		state, id)
	if err != nil {
		return fmt.Errorf("failed to update alert state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("alert %d not found", id)
	}
	return nil
}

func (s *SQLiteStore) UpdateAlertVerification(id int64, matchCount int, averagePrice, expectedProfit float64) error {
	res, err := s.db.Exec(
		`UPDATE alerts
		 SET match_count = ?, average_price = ?, expected_profit = ?,
			 updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		matchCount, averagePrice, expectedProfit, id)
	if err != nil {
		return fmt.Errorf("failed to update alert verification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("alert %d not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	var a Alert
	err := row.Scan(
		&a.ID, &a.ItemID, &a.Title, &a.Query, &a.PriceJPY, &a.ImageURL,
		&a.ListingURL, &a.Similarity, &a.MatchCount, &a.AveragePrice,
		&a.ExpectedProfit, &a.State, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ReplaceCart replaces the cart snapshot atomically.
func (s *SQLiteStore) ReplaceCart(items []CartItem) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cart_items`); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	for _, item := range items {
		_, err := tx.Exec(
			`INSERT INTO cart_items (item_id, title, keyword, price_jpy, status, image_url)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			item.ItemID, item.Title, item.Keyword, item.PriceJPY, item.Status, item.ImageURL)
		if err != nil {
			return fmt.Errorf("failed to insert cart item: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetCart() ([]CartItem, error) {
	rows, err := s.db.Query(
		`SELECT item_id, title, keyword, price_jpy, status, image_url
		 FROM cart_items ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}
	defer rows.Close()

	var items []CartItem
	for rows.Next() {
		var item CartItem
		if err := rows.Scan(&item.ItemID, &item.Title, &item.Keyword,
			&item.PriceJPY, &item.Status, &item.ImageURL); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) GetQueryCache(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM query_cache WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read query cache: %w", err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetQueryCache(key, value string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO query_cache (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write query cache: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetCredential(name, value string) error {
	if s.key == nil {
		return errors.New("credential storage requires an encryption key")
	}
	encrypted, err := Encrypt(s.key, value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO credentials (name, value) VALUES (?, ?)`, name, encrypted)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCredential(name string) (string, error) {
	if s.key == nil {
		return "", errors.New("credential storage requires an encryption key")
	}
	var encrypted string
	err := s.db.QueryRow(`SELECT value FROM credentials WHERE name = ?`, name).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	return Decrypt(s.key, encrypted)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
