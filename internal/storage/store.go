package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"alertdetail/internal/config"
	"alertdetail/internal/model"
)

var ErrStorageDisabled = errors.New("storage disabled")

// Store reads alert history and the permission tables. It never writes
// alert_log rows; Init only creates the schema for development databases.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	LatestAlertDetails(ctx context.Context, ruleID, deviceID int64) (model.AlertLogRow, error)
	AlertDetailsByID(ctx context.Context, id int64) (model.AlertLogRow, error)
	ListAlertLog(ctx context.Context, q AlertLogQuery) ([]model.AlertLogRow, error)
	Device(ctx context.Context, id int64) (model.Device, error)
	DevicePermitted(ctx context.Context, userID, deviceID int64) (bool, error)
	BillPermitted(ctx context.Context, userID, billID int64) (bool, error)
	PortPermitted(ctx context.Context, userID, portID int64) (bool, error)
}

// AlertLogQuery filters the alert log report. Zero values mean "any".
type AlertLogQuery struct {
	DeviceID  int64
	Rule      string
	Start     int
	Limit     int
	Principal model.Principal
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

type baseStore struct {
	db      *sql.DB
	dialect dialect
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// ph returns the n-th (1-based) bind placeholder.
func (b *baseStore) ph(n int) string {
	if b.dialect == dialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const selectAlertLog = `SELECT E.id, E.rule_id, E.device_id, COALESCE(D.sysName, ''), COALESCE(R.name, ''),
	COALESCE(R.severity, ''), E.state, E.time_logged, E.details
FROM alert_log E
LEFT JOIN devices D ON E.device_id = D.device_id
LEFT JOIN alert_rules R ON E.rule_id = R.id`

func (b *baseStore) LatestAlertDetails(ctx context.Context, ruleID, deviceID int64) (model.AlertLogRow, error) {
	query := selectAlertLog + `
WHERE E.rule_id = ` + b.ph(1) + ` AND E.device_id = ` + b.ph(2) + ` AND E.state = 1
ORDER BY E.id DESC LIMIT 1`
	row, err := scanAlertLog(b.db.QueryRowContext(ctx, query, ruleID, deviceID))
	if err != nil {
		return model.AlertLogRow{}, notFound(err, "alert log rule=%d device=%d", ruleID, deviceID)
	}
	return row, nil
}

func (b *baseStore) AlertDetailsByID(ctx context.Context, id int64) (model.AlertLogRow, error) {
	query := selectAlertLog + `
WHERE E.id = ` + b.ph(1)
	row, err := scanAlertLog(b.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return model.AlertLogRow{}, notFound(err, "alert log id=%d", id)
	}
	return row, nil
}

func (b *baseStore) ListAlertLog(ctx context.Context, q AlertLogQuery) ([]model.AlertLogRow, error) {
	var (
		where []string
		args  []any
	)
	if q.DeviceID > 0 {
		args = append(args, q.DeviceID)
		where = append(where, "E.device_id = "+b.ph(len(args)))
	}
	if q.Rule != "" {
		args = append(args, q.Rule)
		where = append(where, "R.rule LIKE "+b.ph(len(args)))
	}
	if !q.Principal.GlobalRead {
		args = append(args, q.Principal.ID)
		where = append(where, "E.device_id IN (SELECT device_id FROM devices_perms WHERE user_id = "+b.ph(len(args))+")")
	}

	var sb strings.Builder
	sb.WriteString(selectAlertLog)
	if len(where) > 0 {
		sb.WriteString("\nWHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 250
	}
	start := q.Start
	if start < 0 {
		start = 0
	}
	args = append(args, limit)
	sb.WriteString("\nORDER BY E.time_logged DESC, E.id DESC LIMIT " + b.ph(len(args)))
	args = append(args, start)
	sb.WriteString(" OFFSET " + b.ph(len(args)))

	rows, err := b.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list alert log: %w", err)
	}
	defer rows.Close()

	var out []model.AlertLogRow
	for rows.Next() {
		row, err := scanAlertLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert log: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (b *baseStore) Device(ctx context.Context, id int64) (model.Device, error) {
	var dev model.Device
	err := b.db.QueryRowContext(ctx,
		`SELECT device_id, hostname, COALESCE(sysName, ''), COALESCE(os, '') FROM devices WHERE device_id = `+b.ph(1),
		id,
	).Scan(&dev.ID, &dev.Hostname, &dev.SysName, &dev.OS)
	if err != nil {
		return model.Device{}, notFound(err, "device %d", id)
	}
	return dev, nil
}

func (b *baseStore) DevicePermitted(ctx context.Context, userID, deviceID int64) (bool, error) {
	return b.permitted(ctx, "devices_perms", "device_id", userID, deviceID)
}

func (b *baseStore) BillPermitted(ctx context.Context, userID, billID int64) (bool, error) {
	return b.permitted(ctx, "bills_perms", "bill_id", userID, billID)
}

func (b *baseStore) PortPermitted(ctx context.Context, userID, portID int64) (bool, error) {
	return b.permitted(ctx, "ports_perms", "port_id", userID, portID)
}

// table and column are package constants, never user input.
func (b *baseStore) permitted(ctx context.Context, table, column string, userID, id int64) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx,
		`SELECT 1 FROM `+table+` WHERE user_id = `+b.ph(1)+` AND `+column+` = `+b.ph(2)+` LIMIT 1`,
		userID, id,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query %s: %w", table, err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlertLog(s rowScanner) (model.AlertLogRow, error) {
	var (
		row    model.AlertLogRow
		logged timeValue
	)
	if err := s.Scan(&row.ID, &row.RuleID, &row.DeviceID, &row.SysName, &row.Alert,
		&row.Severity, &row.State, &logged, &row.Details); err != nil {
		return model.AlertLogRow{}, err
	}
	row.TimeLogged = logged.t
	return row, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, model.ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// timeValue scans timestamps stored natively or as text.
type timeValue struct {
	t time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func (v *timeValue) Scan(src any) error {
	switch t := src.(type) {
	case nil:
		v.t = time.Time{}
		return nil
	case time.Time:
		v.t = t.UTC()
		return nil
	case string:
		return v.parse(t)
	case []byte:
		return v.parse(string(t))
	case int64:
		v.t = time.Unix(t, 0).UTC()
		return nil
	}
	return fmt.Errorf("unsupported time value %T", src)
}

func (v *timeValue) parse(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			v.t = ts.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable time %q", s)
}
