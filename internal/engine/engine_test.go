package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"alertdetail/internal/config"
	"alertdetail/internal/feed"
	"alertdetail/internal/model"
	"alertdetail/internal/snapshot"
	"alertdetail/internal/storage"
)

const bgpDoc = `{"rule":[{"bgpPeer_id":9,"bgpPeerIdentifier":"10.0.0.1","bgpPeerRemoteAs":65001,"bgpPeerState":"Established","device_id":3}]}`

type fakeStore struct {
	rows    map[[2]int64]model.AlertLogRow
	devices map[int64]bool
}

func (f *fakeStore) Init(context.Context) error { return nil }
func (f *fakeStore) Close() error               { return nil }

func (f *fakeStore) LatestAlertDetails(_ context.Context, ruleID, deviceID int64) (model.AlertLogRow, error) {
	row, ok := f.rows[[2]int64{ruleID, deviceID}]
	if !ok {
		return model.AlertLogRow{}, model.ErrNotFound
	}
	return row, nil
}

func (f *fakeStore) AlertDetailsByID(context.Context, int64) (model.AlertLogRow, error) {
	return model.AlertLogRow{}, model.ErrNotFound
}

func (f *fakeStore) ListAlertLog(context.Context, storage.AlertLogQuery) ([]model.AlertLogRow, error) {
	return nil, nil
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

func newEngineForTest(t *testing.T, cfg *config.Config, store storage.Store) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	eng, err := NewEngine(cfg, nil, feed.NewStore(10), store)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	eng.now = func() time.Time { return time.Unix(1700000000, 0) }
	return eng
}

func TestRenderBlob(t *testing.T) {
	eng := newEngineForTest(t, nil, nil)
	out, err := eng.RenderBlob(context.Background(), mustBlob(t, bgpDoc), model.Principal{}, model.ModePlain)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "#1:BGP peer 10.0.0.1, AS65001, State Established\n" {
		t.Fatalf("got %q", out)
	}

	if _, err := eng.RenderBlob(context.Background(), []byte("not compressed"), model.Principal{}, model.ModePlain); !errors.Is(err, snapshot.ErrDecompression) {
		t.Fatalf("expected decompression error, got %v", err)
	}
	if _, err := eng.RenderBlob(context.Background(), mustBlob(t, `{"foo":1}`), model.Principal{}, model.ModeLinked); !errors.Is(err, snapshot.ErrDeserialization) {
		t.Fatalf("expected deserialization error, got %v", err)
	}
}

func TestDetails(t *testing.T) {
	store := &fakeStore{rows: map[[2]int64]model.AlertLogRow{
		{4, 3}: {ID: 1, RuleID: 4, DeviceID: 3, State: 1, Details: mustBlob(t, bgpDoc)},
	}}
	eng := newEngineForTest(t, nil, store)
	ctx := context.Background()

	out, err := eng.Details(ctx, 4, 3, model.Principal{}, model.ModeLinked)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if !strings.Contains(out, `<a href="/device/device=3/tab=routing/proto=bgp/">10.0.0.1</a>`) {
		t.Fatalf("unexpected details: %q", out)
	}
	if _, err := eng.Details(ctx, 4, 99, model.Principal{}, model.ModeLinked); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	noStore := newEngineForTest(t, nil, nil)
	if _, err := noStore.Details(ctx, 4, 3, model.Principal{}, model.ModeLinked); !errors.Is(err, storage.ErrStorageDisabled) {
		t.Fatalf("expected ErrStorageDisabled, got %v", err)
	}
}

func TestPermissionsFromStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Access.Enabled = true
	store := &fakeStore{devices: map[int64]bool{3: true}}
	eng := newEngineForTest(t, cfg, store)
	blob := mustBlob(t, bgpDoc)

	allowed, err := eng.RenderBlob(context.Background(), blob, model.Principal{ID: 5, Name: "ops"}, model.ModeLinked)
	if err != nil || !strings.Contains(allowed, "<a href=") {
		t.Fatalf("permitted principal: %q %v", allowed, err)
	}
	denied, err := eng.RenderBlob(context.Background(), blob, model.Principal{Name: "guest"}, model.ModeLinked)
	if err != nil || strings.Contains(denied, "<a") {
		t.Fatalf("denied principal: %q %v", denied, err)
	}
	if !eng.CanView(context.Background(), 3, model.Principal{ID: 5}) || eng.CanView(context.Background(), 4, model.Principal{ID: 5}) {
		t.Fatalf("CanView does not follow device grants")
	}
}

func TestProcessNotification(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ingest.DedupeWindow = time.Minute
	eng := newEngineForTest(t, cfg, nil)
	ctx := context.Background()
	n := model.Notification{
		RuleID:     4,
		DeviceID:   3,
		Name:       "BGP session down",
		Severity:   "critical",
		TimeLogged: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Details:    mustBlob(t, bgpDoc),
		Source:     "kafka",
	}

	entry, ok := eng.ProcessNotification(ctx, n)
	if !ok {
		t.Fatalf("notification dropped")
	}
	if entry.ID == "" || entry.Error != "" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if !strings.Contains(entry.FaultDetail, "<a href=") || entry.FaultText != "#1:BGP peer 10.0.0.1, AS65001, State Established\n" {
		t.Fatalf("rendered entry: %+v", entry)
	}

	if _, ok := eng.ProcessNotification(ctx, n); ok {
		t.Fatalf("duplicate notification accepted")
	}

	bad := n
	bad.Details = []byte("garbage")
	entry, ok = eng.ProcessNotification(ctx, bad)
	if !ok || entry.Error == "" || entry.FaultText != "" {
		t.Fatalf("bad blob entry: %+v", entry)
	}
	if got := eng.Feed().List(0); len(got) != 2 {
		t.Fatalf("feed has %d entries", len(got))
	}

	eng.Reset()
	if eng.Feed().Len() != 0 {
		t.Fatalf("reset did not clear feed")
	}
	if _, ok := eng.ProcessNotification(ctx, n); !ok {
		t.Fatalf("reset did not clear dedupe cache")
	}
}

func TestStartConsumesChannel(t *testing.T) {
	eng := newEngineForTest(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan model.Notification, 1)
	eng.Start(ctx, in)
	in <- model.Notification{RuleID: 1, DeviceID: 3, Details: mustBlob(t, bgpDoc), Source: "rest"}

	deadline := time.Now().Add(2 * time.Second)
	for eng.Feed().Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("notification not processed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUpdateConfigKeepsPreviousOnError(t *testing.T) {
	eng := newEngineForTest(t, nil, nil)
	bad := config.DefaultConfig()
	bad.Ports.RewriteIfRegexp = map[string]string{"/([/": "x"}
	if err := eng.UpdateConfig(bad); err == nil {
		t.Fatalf("expected error for invalid regexp")
	}
	if eng.config() == bad {
		t.Fatalf("invalid config was installed")
	}
	if _, err := eng.RenderBlob(context.Background(), mustBlob(t, bgpDoc), model.Principal{}, model.ModePlain); err != nil {
		t.Fatalf("render after failed update: %v", err)
	}
}

func TestDedupeCache(t *testing.T) {
	d := NewDedupeCache(time.Second)
	now := time.Now()
	n := model.Notification{RuleID: 1, DeviceID: 2, TimeLogged: now, Details: []byte("blob")}
	if d.Repeat(n, now) {
		t.Fatalf("first sighting reported as repeat")
	}
	if !d.Repeat(n, now.Add(500*time.Millisecond)) {
		t.Fatalf("expected repeat inside window")
	}
	other := n
	other.DeviceID = 3
	if d.Repeat(other, now.Add(600*time.Millisecond)) {
		t.Fatalf("different device treated as repeat")
	}
	if d.Repeat(n, now.Add(3*time.Second)) {
		t.Fatalf("expected expiry after window")
	}
	if d.Len() != 2 {
		t.Fatalf("Len = %d", d.Len())
	}

	off := NewDedupeCache(0)
	if off.Repeat(n, now) || off.Repeat(n, now) || off.Len() != 0 {
		t.Fatalf("zero window should disable deduplication")
	}
}

func TestDedupeWindowFollowsConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ingest.DedupeWindow = 0
	eng := newEngineForTest(t, cfg, nil)
	n := model.Notification{RuleID: 4, DeviceID: 3, Details: mustBlob(t, bgpDoc), Source: "rest"}
	if _, ok := eng.ProcessNotification(context.Background(), n); !ok {
		t.Fatalf("first notification dropped")
	}
	if _, ok := eng.ProcessNotification(context.Background(), n); !ok {
		t.Fatalf("repeat dropped with deduplication off")
	}

	next := config.DefaultConfig()
	next.Ingest.DedupeWindow = time.Minute
	if err := eng.UpdateConfig(next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if eng.deDupe.Load().Window() != time.Minute {
		t.Fatalf("window not reloaded")
	}
	if _, ok := eng.ProcessNotification(context.Background(), n); !ok {
		t.Fatalf("first notification after reload dropped")
	}
	if _, ok := eng.ProcessNotification(context.Background(), n); ok {
		t.Fatalf("repeat accepted after enabling deduplication")
	}
}
