package model

import (
	"strings"
	"time"
)

// Mode selects the audience of a rendered fault detail.
type Mode int

const (
	// ModeLinked renders anchors for the web UI.
	ModeLinked Mode = iota
	// ModePlain renders markup-free text for printable reports.
	ModePlain
)

func (m Mode) String() string {
	if m == ModePlain {
		return "plain"
	}
	return "linked"
}

// ParseMode accepts "plain"/"text"/"0"/"false" as plain, everything else as linked.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "text", "0", "false", "no":
		return ModePlain
	}
	return ModeLinked
}

type EntityKind string

const (
	EntityBill        EntityKind = "bill"
	EntityPort        EntityKind = "port"
	EntityAccessPoint EntityKind = "accesspoint"
	EntitySensor      EntityKind = "sensor"
	EntityDevice      EntityKind = "device"
	EntityApplication EntityKind = "application"
)

type Principal struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	GlobalRead bool   `json:"global_read"`
}

type Device struct {
	ID       int64  `json:"device_id"`
	Hostname string `json:"hostname"`
	SysName  string `json:"sysName"`
	OS       string `json:"os"`
}

// AlertLogRow is one alert_log entry joined with its rule and device.
type AlertLogRow struct {
	ID         int64     `json:"id"`
	RuleID     int64     `json:"rule_id"`
	DeviceID   int64     `json:"device_id"`
	SysName    string    `json:"sysName"`
	Alert      string    `json:"alert"`
	Severity   string    `json:"severity"`
	State      int       `json:"state"`
	TimeLogged time.Time `json:"time_logged"`
	Details    []byte    `json:"-"`
}

// Notification is an alert-fired message received from the poller side.
type Notification struct {
	RuleID     int64     `json:"rule_id"`
	DeviceID   int64     `json:"device_id"`
	Name       string    `json:"name"`
	Severity   string    `json:"severity"`
	TimeLogged time.Time `json:"time_logged"`
	Details    []byte    `json:"-"`
	Source     string    `json:"source,omitempty"`
}

// FeedEntry is a rendered notification kept in the recent-alerts feed.
type FeedEntry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	RuleID      int64     `json:"rule_id"`
	DeviceID    int64     `json:"device_id"`
	Name        string    `json:"name"`
	Severity    string    `json:"severity"`
	Source      string    `json:"source,omitempty"`
	FaultDetail string    `json:"fault_detail"`
	FaultText   string    `json:"fault_text"`
	Error       string    `json:"error,omitempty"`
}

type ReportRow struct {
	AlertLogRow
	HumanDate    string `json:"humandate"`
	FaultDetails string `json:"faultDetails"`
	Error        string `json:"error,omitempty"`
}
