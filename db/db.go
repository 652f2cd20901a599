package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/otpkeep/otpkeep/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// DB represents the database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Initialize creates the necessary tables if they don't exist
func (db *DB) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		account_name TEXT NOT NULL,
		issuer TEXT,
		secret_key TEXT NOT NULL,
		changed_at INTEGER NOT NULL,
		position INTEGER NOT NULL
	)
	`

	_, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create accounts table: %w", err)
	}

	return nil
}

// GetAccounts returns all stored accounts in list order. ChangedAt is
// round-tripped at whole-second precision.
func (db *DB) GetAccounts() ([]models.Account, error) {
	rows, err := db.Query(`
	SELECT id, account_name, issuer, secret_key, changed_at
	FROM accounts ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		var changedAt int64
		if err := rows.Scan(&a.ID, &a.AccountName, &a.Issuer, &a.SecretKey, &changedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.ChangedAt = time.Unix(changedAt, 0).UTC()
		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}

	return accounts, nil
}

// SaveAccounts replaces the stored collection with the given one in a
// single transaction, preserving the slice order as list order.
func (db *DB) SaveAccounts(accounts []models.Account) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM accounts`); err != nil {
		return fmt.Errorf("failed to clear accounts: %w", err)
	}

	stmt, err := tx.Prepare(`
	INSERT INTO accounts (id, account_name, issuer, secret_key, changed_at, position)
	VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, a := range accounts {
		if _, err := stmt.Exec(a.ID, a.AccountName, a.Issuer, a.SecretKey, a.ChangedAt.Unix(), i); err != nil {
			return fmt.Errorf("failed to insert account %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit accounts: %w", err)
	}

	return nil
}
