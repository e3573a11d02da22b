package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/librenms?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, dialect: dialectPostgres}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS devices (
			device_id BIGINT PRIMARY KEY,
			hostname TEXT NOT NULL,
			sysName TEXT,
			os TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS alert_rules (
			id BIGINT PRIMARY KEY,
			rule TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT 'critical'
		)`,
		`CREATE TABLE IF NOT EXISTS alert_log (
			id BIGSERIAL PRIMARY KEY,
			rule_id BIGINT NOT NULL,
			device_id BIGINT NOT NULL,
			state INTEGER NOT NULL,
			details BYTEA,
			time_logged TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_log_rule_device ON alert_log(rule_id, device_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_log_time ON alert_log(time_logged)`,
		`CREATE TABLE IF NOT EXISTS devices_perms (
			user_id BIGINT NOT NULL,
			device_id BIGINT NOT NULL,
			PRIMARY KEY (user_id, device_id)
		)`,
		`CREATE TABLE IF NOT EXISTS bills_perms (
			user_id BIGINT NOT NULL,
			bill_id BIGINT NOT NULL,
			PRIMARY KEY (user_id, bill_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ports_perms (
			user_id BIGINT NOT NULL,
			port_id BIGINT NOT NULL,
			PRIMARY KEY (user_id, port_id)
		)`,
	})
}
