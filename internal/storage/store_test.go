package storage

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"alertdetail/internal/config"
	"alertdetail/internal/model"
)

func newTestStore(t *testing.T) *sqliteStore {
	t.Helper()
	st, err := NewSQLite("file:" + filepath.Join(t.TempDir(), "alertdetail.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return st.(*sqliteStore)
}

func mustExec(t *testing.T, st *sqliteStore, query string, args ...any) {
	t.Helper()
	if _, err := st.db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func seed(t *testing.T, st *sqliteStore) {
	t.Helper()
	mustExec(t, st, `INSERT INTO devices (device_id, hostname, sysName, os) VALUES (1, 'core1', 'core1.example.net', 'junos'), (2, 'edge1', NULL, 'ios')`)
	mustExec(t, st, `INSERT INTO alert_rules (id, rule, name, severity) VALUES (10, 'ports.ifOperStatus = down', 'Port down', 'critical'), (11, 'sensors.sensor_current > 50', 'Sensor over limit', 'warning')`)
	rows := []struct {
		rule, device int64
		state        int
		details      string
		logged       string
	}{
		{10, 1, 1, "first", "2024-05-01 10:00:00"},
		{10, 1, 0, "recovered", "2024-05-01 11:00:00"},
		{10, 1, 1, "second", "2024-05-01 12:00:00"},
		{11, 2, 1, "sensor", "2024-05-02 09:30:00"},
	}
	for _, r := range rows {
		mustExec(t, st, `INSERT INTO alert_log (rule_id, device_id, state, details, time_logged) VALUES (?, ?, ?, ?, ?)`,
			r.rule, r.device, r.state, []byte(r.details), r.logged)
	}
	mustExec(t, st, `INSERT INTO devices_perms (user_id, device_id) VALUES (7, 2)`)
	mustExec(t, st, `INSERT INTO bills_perms (user_id, bill_id) VALUES (7, 40)`)
	mustExec(t, st, `INSERT INTO ports_perms (user_id, port_id) VALUES (7, 300)`)
}

func TestNewStoreDisabled(t *testing.T) {
	st, err := NewStore(config.StorageConfig{Enabled: false})
	if err != nil || st != nil {
		t.Fatalf("disabled storage: %v %v", st, err)
	}
	if _, err := NewStore(config.StorageConfig{Enabled: true, Driver: "mysql"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestLatestAlertDetails(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	ctx := context.Background()

	row, err := st.LatestAlertDetails(ctx, 10, 1)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !bytes.Equal(row.Details, []byte("second")) || row.State != 1 {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.Alert != "Port down" || row.Severity != "critical" || row.SysName != "core1.example.net" {
		t.Fatalf("join columns: %+v", row)
	}
	if want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC); !row.TimeLogged.Equal(want) {
		t.Fatalf("time_logged = %v want %v", row.TimeLogged, want)
	}

	if _, err := st.LatestAlertDetails(ctx, 10, 2); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	byID, err := st.AlertDetailsByID(ctx, row.ID)
	if err != nil || byID.ID != row.ID {
		t.Fatalf("by id: %+v %v", byID, err)
	}
	if _, err := st.AlertDetailsByID(ctx, 999); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListAlertLog(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	ctx := context.Background()
	admin := model.Principal{ID: 1, Name: "admin", GlobalRead: true}

	all, err := st.ListAlertLog(ctx, AlertLogQuery{Principal: admin})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 || string(all[0].Details) != "sensor" || string(all[3].Details) != "first" {
		t.Fatalf("expected newest first, got %d rows", len(all))
	}

	cases := []struct {
		name string
		q    AlertLogQuery
		want int
	}{
		{"device filter", AlertLogQuery{DeviceID: 1, Principal: admin}, 3},
		{"rule like", AlertLogQuery{Rule: "ports.%", Principal: admin}, 3},
		{"limit", AlertLogQuery{Limit: 2, Principal: admin}, 2},
		{"offset", AlertLogQuery{Start: 3, Principal: admin}, 1},
		{"restricted user", AlertLogQuery{Principal: model.Principal{ID: 7}}, 1},
		{"user without grants", AlertLogQuery{Principal: model.Principal{ID: 8}}, 0},
	}
	for _, tc := range cases {
		rows, err := st.ListAlertLog(ctx, tc.q)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if len(rows) != tc.want {
			t.Fatalf("%s: got %d rows want %d", tc.name, len(rows), tc.want)
		}
	}
}

func TestDeviceAndPermissions(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	ctx := context.Background()

	dev, err := st.Device(ctx, 2)
	if err != nil || dev.Hostname != "edge1" || dev.OS != "ios" || dev.SysName != "" {
		t.Fatalf("device: %+v %v", dev, err)
	}
	if _, err := st.Device(ctx, 3); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	checks := []struct {
		name string
		fn   func(context.Context, int64, int64) (bool, error)
		id   int64
		want bool
	}{
		{"device granted", st.DevicePermitted, 2, true},
		{"device denied", st.DevicePermitted, 1, false},
		{"bill granted", st.BillPermitted, 40, true},
		{"bill denied", st.BillPermitted, 41, false},
		{"port granted", st.PortPermitted, 300, true},
		{"port denied", st.PortPermitted, 301, false},
	}
	for _, c := range checks {
		got, err := c.fn(ctx, 7, c.id)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}

func TestTimeValueScan(t *testing.T) {
	ref := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, src := range []any{ref, "2024-05-01 12:00:00", []byte("2024-05-01T12:00:00Z"), ref.Unix()} {
		var v timeValue
		if err := v.Scan(src); err != nil {
			t.Fatalf("scan %v: %v", src, err)
		}
		if !v.t.Equal(ref) {
			t.Fatalf("scan %v = %v", src, v.t)
		}
	}
	var v timeValue
	if err := v.Scan("yesterday"); err == nil {
		t.Fatalf("expected parse error")
	}
}
