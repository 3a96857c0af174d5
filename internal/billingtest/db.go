// Package billingtest provides an in-memory database and fixtures for package tests.
package billingtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE store_subscriptions (
		id INTEGER PRIMARY KEY,
		store_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE payment_tokens (
		id INTEGER PRIMARY KEY,
		store_id INTEGER NOT NULL,
		external_token_ref TEXT NOT NULL,
		external_customer_ref TEXT,
		card_last4 TEXT,
		is_primary BOOLEAN NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME
	)`,
	`CREATE TABLE module_entitlements (
		id INTEGER PRIMARY KEY,
		store_id INTEGER NOT NULL,
		module_id TEXT NOT NULL,
		is_installed BOOLEAN NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 0,
		config TEXT NOT NULL DEFAULT '{}',
		installed_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (store_id, module_id)
	)`,
	`CREATE TABLE module_subscriptions (
		id INTEGER PRIMARY KEY,
		store_id INTEGER NOT NULL,
		module_id TEXT NOT NULL,
		status TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		next_billing_date DATETIME NOT NULL,
		monthly_price NUMERIC NOT NULL,
		currency TEXT NOT NULL,
		last_payment_date DATETIME,
		last_payment_amount NUMERIC,
		failed_payment_count INTEGER NOT NULL DEFAULT 0,
		cancelled_at DATETIME,
		cancellation_reason TEXT,
		expired_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_module_subscriptions_active
		ON module_subscriptions (store_id, module_id) WHERE status = 'ACTIVE'`,
	`CREATE TABLE module_billing_transactions (
		id INTEGER PRIMARY KEY,
		store_id INTEGER NOT NULL,
		subscription_id INTEGER,
		module_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		vat_amount NUMERIC NOT NULL,
		total_amount NUMERIC NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		external_transaction_ref TEXT,
		approval_code TEXT,
		failure_reason TEXT,
		idempotency_key TEXT NOT NULL,
		processed_at DATETIME NOT NULL,
		created_at DATETIME
	)`,
}

// OpenDB returns an isolated in-memory SQLite database with the billing schema.
// Row locking clauses are stripped because SQLite does not support them.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	stripLocking := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if !strings.Contains(sql, "FOR UPDATE") {
			return
		}
		sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
		sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
		d.Statement.SQL.Reset()
		d.Statement.SQL.WriteString(sql)
	}
	if err := db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripLocking); err != nil {
		t.Fatalf("register query callback: %v", err)
	}
	if err := db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripLocking); err != nil {
		t.Fatalf("register row callback: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func NewNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// SeedAccount records the store's own base subscription status.
func SeedAccount(t testing.TB, db *gorm.DB, storeID int64, status string) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO store_subscriptions (id, store_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		storeID*10, storeID, status, now, now,
	).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

// SeedCredential stores a payment token and returns its id.
func SeedCredential(t testing.TB, db *gorm.DB, id, storeID int64, tokenRef string, primary, active bool) int64 {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO payment_tokens (id, store_id, external_token_ref, external_customer_ref, card_last4, is_primary, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, storeID, tokenRef, fmt.Sprintf("cus_%d", storeID), "4242", primary, active, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	return id
}

// CountRows returns the number of rows in table matching the optional where clause.
func CountRows(t testing.TB, db *gorm.DB, table, where string, args ...any) int64 {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}
