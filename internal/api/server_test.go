package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"alertdetail/internal/config"
	"alertdetail/internal/engine"
	"alertdetail/internal/feed"
	"alertdetail/internal/model"
	"alertdetail/internal/snapshot"
	"alertdetail/internal/storage"
)

const portDoc = `{"rule":[{"port_id":7,"device_id":3,"ifName":"eth0","ifDescr":"eth0","ifAlias":"uplink","label":"eth0","ifOperStatus":"down","ifAdminStatus":"up"}]}`

type fakeStore struct {
	rows    []model.AlertLogRow
	devices map[int64]bool
}

func (f *fakeStore) Init(context.Context) error { return nil }
func (f *fakeStore) Close() error               { return nil }

func (f *fakeStore) LatestAlertDetails(_ context.Context, ruleID, deviceID int64) (model.AlertLogRow, error) {
	for _, row := range f.rows {
		if row.RuleID == ruleID && row.DeviceID == deviceID && row.State == 1 {
			return row, nil
		}
	}
	return model.AlertLogRow{}, model.ErrNotFound
}

func (f *fakeStore) AlertDetailsByID(_ context.Context, id int64) (model.AlertLogRow, error) {
	for _, row := range f.rows {
		if row.ID == id {
			return row, nil
		}
	}
	return model.AlertLogRow{}, model.ErrNotFound
}

func (f *fakeStore) ListAlertLog(_ context.Context, q storage.AlertLogQuery) ([]model.AlertLogRow, error) {
	var out []model.AlertLogRow
	for _, row := range f.rows {
		if q.DeviceID > 0 && row.DeviceID != q.DeviceID {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeStore) Device(context.Context, int64) (model.Device, error) {
	return model.Device{}, model.ErrNotFound
}

func (f *fakeStore) DevicePermitted(_ context.Context, _ int64, deviceID int64) (bool, error) {
	return f.devices[deviceID], nil
}

func (f *fakeStore) BillPermitted(context.Context, int64, int64) (bool, error) { return false, nil }
func (f *fakeStore) PortPermitted(context.Context, int64, int64) (bool, error) { return false, nil }

func mustBlob(t *testing.T, doc string) []byte {
	t.Helper()
	blob, err := snapshot.EncodeJSON([]byte(doc))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return blob
}

func newTestServer(t *testing.T, cfg *config.Config, store storage.Store) (*httptest.Server, *engine.Engine) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	eng, err := engine.NewEngine(cfg, nil, feed.NewStore(10), store)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	srv := httptest.NewServer(NewServer(config.NewStaticManager(cfg), eng, nil, "test").Handler())
	t.Cleanup(srv.Close)
	return srv, eng
}

func get(t *testing.T, url string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestStatus(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	resp, body := get(t, srv.URL+"/status", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["storage"] != false {
		t.Fatalf("status: %d %v", resp.StatusCode, body)
	}
	detectors, _ := body["detectors"].([]any)
	if len(detectors) == 0 || detectors[len(detectors)-1] != "fallback" {
		t.Fatalf("detectors: %v", body["detectors"])
	}
}

func TestDetails(t *testing.T) {
	store := &fakeStore{rows: []model.AlertLogRow{
		{ID: 11, RuleID: 4, DeviceID: 3, State: 1, Details: mustBlob(t, portDoc)},
		{ID: 12, RuleID: 4, DeviceID: 5, State: 1, Details: []byte("broken")},
	}}
	srv, _ := newTestServer(t, nil, store)

	resp, body := get(t, srv.URL+"/alerts/details?rule_id=4&device_id=3", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if details, _ := body["details"].(string); !strings.HasPrefix(details, "#1:<a ") {
		t.Fatalf("linked details: %q", details)
	}

	_, body = get(t, srv.URL+"/alerts/details?id=11&links=0", nil)
	if body["mode"] != "plain" || body["details"] != "#1:eth0\n" {
		t.Fatalf("plain details: %v", body)
	}

	cases := []struct {
		query string
		want  int
	}{
		{"rule_id=4&device_id=99", http.StatusNotFound},
		{"rule_id=4", http.StatusBadRequest},
		{"rule_id=4&device_id=5", http.StatusUnprocessableEntity},
		{"id=404", http.StatusNotFound},
	}
	for _, tc := range cases {
		if resp, _ := get(t, srv.URL+"/alerts/details?"+tc.query, nil); resp.StatusCode != tc.want {
			t.Fatalf("%s: status %d want %d", tc.query, resp.StatusCode, tc.want)
		}
	}
}

func TestDetailsWithoutStorage(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	if resp, _ := get(t, srv.URL+"/alerts/details?rule_id=1&device_id=1", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp, _ := get(t, srv.URL+"/reports/alertlog", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("report status %d", resp.StatusCode)
	}
}

func TestDetailsForbidden(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Access.Enabled = true
	store := &fakeStore{
		rows:    []model.AlertLogRow{{ID: 11, RuleID: 4, DeviceID: 3, State: 1, Details: mustBlob(t, portDoc)}},
		devices: map[int64]bool{3: true},
	}
	srv, _ := newTestServer(t, cfg, store)

	if resp, _ := get(t, srv.URL+"/alerts/details?rule_id=4&device_id=3", map[string]string{HeaderPrincipal: "guest"}); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("guest status %d", resp.StatusCode)
	}
	if resp, _ := get(t, srv.URL+"/alerts/details?id=11", map[string]string{HeaderPrincipal: "guest"}); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("guest by id status %d", resp.StatusCode)
	}
	resp, _ := get(t, srv.URL+"/alerts/details?rule_id=4&device_id=3", map[string]string{HeaderPrincipal: "ops", HeaderPrincipalID: "5"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("permitted status %d", resp.StatusCode)
	}
}

func TestAlertLogReport(t *testing.T) {
	logged := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: []model.AlertLogRow{
		{ID: 2, RuleID: 4, DeviceID: 3, SysName: "core1", Alert: "Port down", State: 1, TimeLogged: logged, Details: mustBlob(t, portDoc)},
		{ID: 1, RuleID: 4, DeviceID: 3, SysName: "core1", Alert: "Port down", State: 0, TimeLogged: logged, Details: []byte("broken")},
	}}
	srv, _ := newTestServer(t, nil, store)

	resp, body := get(t, srv.URL+"/reports/alertlog?device_id=3&results=10", nil)
	if resp.StatusCode != http.StatusOK || body["pagetitle"] != "Alert Logs" {
		t.Fatalf("report: %d %v", resp.StatusCode, body)
	}
	rows, _ := body["json"].([]any)
	if len(rows) != 2 {
		t.Fatalf("rows: %v", body["json"])
	}
	first, _ := rows[0].(map[string]any)
	second, _ := rows[1].(map[string]any)
	if first["faultDetails"] != "#1:eth0\n" || first["humandate"] != "2024-05-01 12:00:00" {
		t.Fatalf("first row: %v", first)
	}
	if second["faultDetails"] != "unavailable" {
		t.Fatalf("second row: %v", second)
	}
}

func TestFeedFiltersByPermission(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Access.Enabled = true
	cfg.Access.Devices = map[string][]int64{"ops": {3}}
	srv, eng := newTestServer(t, cfg, nil)
	ctx := context.Background()
	for _, deviceID := range []int64{3, 4, 3} {
		eng.ProcessNotification(ctx, model.Notification{
			RuleID:     deviceID,
			DeviceID:   deviceID,
			TimeLogged: time.Now().Add(time.Duration(eng.Feed().Len()) * time.Second),
			Details:    mustBlob(t, portDoc),
			Source:     "rest",
		})
	}

	_, body := get(t, srv.URL+"/feed", map[string]string{HeaderPrincipal: "ops"})
	if body["count"] != float64(2) {
		t.Fatalf("ops feed: %v", body)
	}
	_, body = get(t, srv.URL+"/feed?limit=1", map[string]string{HeaderPrincipal: "ops"})
	if body["count"] != float64(1) {
		t.Fatalf("limited feed: %v", body)
	}
	_, body = get(t, srv.URL+"/feed", map[string]string{HeaderGlobalRead: "true"})
	if body["count"] != float64(3) {
		t.Fatalf("global feed: %v", body)
	}
	if resp, _ := get(t, srv.URL+"/feed?since=yesterday", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad since status %d", resp.StatusCode)
	}
}

func TestClear(t *testing.T) {
	srv, eng := newTestServer(t, nil, nil)
	eng.ProcessNotification(context.Background(), model.Notification{RuleID: 1, DeviceID: 1, Details: mustBlob(t, portDoc)})

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/admin/clear", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden || eng.Feed().Len() != 1 {
		t.Fatalf("anonymous clear: %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/admin/clear", nil)
	req.Header.Set(HeaderGlobalRead, "1")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || eng.Feed().Len() != 0 {
		t.Fatalf("admin clear: %d, %d entries left", resp.StatusCode, eng.Feed().Len())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}
}
