package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// LegacyAuthStatus is the shape of the antigravityAuthStatus value stored in
// the Antigravity IDE's local state database.
type LegacyAuthStatus struct {
	APIKey string `json:"apiKey"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// ReadLegacyAuthStatus opens dbPath read-only and extracts the IDE's cached
// auth status, used to back legacy-db accounts without requiring the user
// to re-authenticate outside the IDE.
func ReadLegacyAuthStatus(dbPath string) (*LegacyAuthStatus, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("legacy db not found at %s: %w", dbPath, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open legacy db: %w", err)
	}
	defer db.Close()

	var value string
	err = db.QueryRow("SELECT value FROM ItemTable WHERE key = 'antigravityAuthStatus'").Scan(&value)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no auth status found in legacy db")
	}
	if err != nil {
		return nil, fmt.Errorf("query legacy db: %w", err)
	}

	var status LegacyAuthStatus
	if err := json.Unmarshal([]byte(value), &status); err != nil {
		return nil, fmt.Errorf("parse legacy auth status: %w", err)
	}
	if status.APIKey == "" {
		return nil, fmt.Errorf("legacy auth status missing apiKey")
	}
	return &status, nil
}

// LegacyDBAccessible reports whether dbPath exists and can be opened.
func LegacyDBAccessible(dbPath string) bool {
	if _, err := os.Stat(dbPath); err != nil {
		return false
	}
	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return false
	}
	defer db.Close()
	return db.Ping() == nil
}
