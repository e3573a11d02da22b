package normalize

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"alertdetail/internal/config"
)

func TestNormalize(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ingest.Timezone = "Europe/Berlin"
	blob := []byte{0x78, 0x9c, 0x01, 0x02}
	n, err := Normalize(NotificationFields{
		RuleID:     " 12 ",
		DeviceID:   "3",
		Name:       "Port down ",
		Severity:   "WARN",
		TimeLogged: "2024-05-01 12:00:00",
		Details:    base64.StdEncoding.EncodeToString(blob),
		Source:     "rest",
	}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if n.RuleID != 12 || n.DeviceID != 3 || n.Name != "Port down" || n.Severity != "warning" || n.Source != "rest" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC); !n.TimeLogged.Equal(want) {
		t.Fatalf("time_logged = %v want %v", n.TimeLogged, want)
	}
	if string(n.Details) != string(blob) {
		t.Fatalf("details not decoded")
	}
}

func TestNormalizeRejects(t *testing.T) {
	details := base64.StdEncoding.EncodeToString([]byte("x"))
	cases := []struct {
		name   string
		fields NotificationFields
	}{
		{"missing rule", NotificationFields{DeviceID: "1", Details: details}},
		{"bad device", NotificationFields{RuleID: "1", DeviceID: "abc", Details: details}},
		{"zero device", NotificationFields{RuleID: "1", DeviceID: "0", Details: details}},
		{"bad time", NotificationFields{RuleID: "1", DeviceID: "1", Details: details, TimeLogged: "yesterday"}},
		{"not base64", NotificationFields{RuleID: "1", DeviceID: "1", Details: "***"}},
	}
	for _, tc := range cases {
		if _, err := Normalize(tc.fields, nil); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
	if _, err := Normalize(NotificationFields{RuleID: "1", DeviceID: "1"}, nil); !errors.Is(err, ErrMissingDetails) {
		t.Fatalf("expected ErrMissingDetails, got %v", err)
	}
}

func TestDecodeDetailsVariants(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0x01}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		got, err := DecodeDetails(enc.EncodeToString(raw))
		if err != nil || string(got) != string(raw) {
			t.Fatalf("decode %q: %v", enc.EncodeToString(raw), err)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, in := range []string{"1714564800", "1714564800000", "2024-05-01T12:00:00Z", "2024-05-01 12:00:00"} {
		got, err := ParseTimestamp(in, time.UTC)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: got %v", in, got)
		}
	}
	if _, err := ParseTimestamp(" ", time.UTC); err == nil {
		t.Fatalf("expected error for empty timestamp")
	}
}
