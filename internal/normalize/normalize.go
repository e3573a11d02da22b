package normalize

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"alertdetail/internal/config"
	"alertdetail/internal/model"
)

// NotificationFields is an alert-fired message as received, before
// validation.
type NotificationFields struct {
	RuleID     string
	DeviceID   string
	Name       string
	Severity   string
	TimeLogged string
	Details    string
	Source     string
}

var ErrMissingDetails = errors.New("missing details")

func Normalize(fields NotificationFields, cfg *config.Config) (model.Notification, error) {
	ruleID, err := parseID("rule_id", fields.RuleID)
	if err != nil {
		return model.Notification{}, err
	}
	deviceID, err := parseID("device_id", fields.DeviceID)
	if err != nil {
		return model.Notification{}, err
	}

	details, err := DecodeDetails(fields.Details)
	if err != nil {
		return model.Notification{}, err
	}

	loc := time.UTC
	if cfg != nil && cfg.Ingest.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Timezone); err == nil {
			loc = l
		}
	}
	ts := time.Now().UTC()
	if strings.TrimSpace(fields.TimeLogged) != "" {
		parsed, err := ParseTimestamp(fields.TimeLogged, loc)
		if err != nil {
			return model.Notification{}, fmt.Errorf("parse time_logged: %w", err)
		}
		ts = parsed.UTC()
	}

	return model.Notification{
		RuleID:     ruleID,
		DeviceID:   deviceID,
		Name:       strings.TrimSpace(fields.Name),
		Severity:   ParseSeverity(fields.Severity),
		TimeLogged: ts,
		Details:    details,
		Source:     fields.Source,
	}, nil
}

func parseID(field, value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("missing %s", field)
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", field, value)
	}
	return id, nil
}

// DecodeDetails accepts the compressed snapshot as standard or URL-safe
// base64, padded or not.
func DecodeDetails(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrMissingDetails
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(value); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("details: not base64")
}

// ParseSeverity maps alert severities onto ok, warning and critical.
func ParseSeverity(severity string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "ok", "normal", "recovered":
		return "ok"
	case "warning", "warn", "minor":
		return "warning"
	}
	return "critical"
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts unix seconds or milliseconds and the common
// ISO-like layouts. Layouts without a zone are read in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if len(value) >= 13 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}
