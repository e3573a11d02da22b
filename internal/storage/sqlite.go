package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:alertdetail.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db, dialect: dialectSQLite}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS devices (
			device_id INTEGER PRIMARY KEY,
			hostname TEXT NOT NULL,
			sysName TEXT,
			os TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS alert_rules (
			id INTEGER PRIMARY KEY,
			rule TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT 'critical'
		)`,
		`CREATE TABLE IF NOT EXISTS alert_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			rule_id INTEGER NOT NULL,
			device_id INTEGER NOT NULL,
			state INTEGER NOT NULL,
			details BLOB,
			time_logged TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_log_rule_device ON alert_log(rule_id, device_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_log_time ON alert_log(time_logged)`,
		`CREATE TABLE IF NOT EXISTS devices_perms (
			user_id INTEGER NOT NULL,
			device_id INTEGER NOT NULL,
			PRIMARY KEY (user_id, device_id)
		)`,
		`CREATE TABLE IF NOT EXISTS bills_perms (
			user_id INTEGER NOT NULL,
			bill_id INTEGER NOT NULL,
			PRIMARY KEY (user_id, bill_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ports_perms (
			user_id INTEGER NOT NULL,
			port_id INTEGER NOT NULL,
			PRIMARY KEY (user_id, port_id)
		)`,
	})
}
