package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"alertdetail/internal/normalize"
)

// ParseJSONBytes reads one notification object or an array of them.
func ParseJSONBytes(data []byte) ([]normalize.NotificationFields, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, errors.New("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(trim))
	dec.UseNumber()
	if trim[0] == '[' {
		var list []map[string]any
		if err := dec.Decode(&list); err != nil {
			return nil, err
		}
		out := make([]normalize.NotificationFields, 0, len(list))
		for _, obj := range list {
			out = append(out, ParseJSONMap(obj))
		}
		return out, nil
	}
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return []normalize.NotificationFields{ParseJSONMap(obj)}, nil
}

func ParseJSONMap(obj map[string]any) normalize.NotificationFields {
	values := make(map[string]string, len(obj))
	for key, val := range obj {
		if val == nil {
			continue
		}
		values[strings.ToLower(key)] = fmt.Sprint(val)
	}
	return normalize.NotificationFields{
		RuleID:     firstNonEmpty(values, "rule_id", "rule"),
		DeviceID:   firstNonEmpty(values, "device_id", "device"),
		Name:       firstNonEmpty(values, "name", "alert", "rule_name"),
		Severity:   firstNonEmpty(values, "severity", "level"),
		TimeLogged: firstNonEmpty(values, "time_logged", "timestamp", "time", "ts"),
		Details:    firstNonEmpty(values, "details", "snapshot"),
	}
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}
