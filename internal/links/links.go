// Package links builds deep links to entity detail pages and graph images.
//
// Page URLs follow the path-encoded scheme of the web UI:
//
//	<base>device/device=3/tab=port/port=17/
//
// Graph URLs point at graph.php with an explicit time window, so a Linker is
// always bound to a reference time and the output is deterministic.
package links

import (
	"errors"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"time"

	"alertdetail/internal/config"
	"alertdetail/internal/model"
)

var ErrInvalidEntityID = errors.New("invalid entity id")

type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// Periods is the order graphs are shown in popovers.
var Periods = []Period{PeriodDay, PeriodWeek, PeriodMonth, PeriodYear}

type Param struct {
	Key   string
	Value string
}

func P(key string, value any) Param {
	return Param{Key: key, Value: model.Stringify(value)}
}

type Builder struct {
	base   string
	width  int
	height int
	ranges config.TimeRangesConfig
}

func NewBuilder(cfg config.LinksConfig) *Builder {
	base := cfg.BaseURL
	if base == "" {
		base = "/"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	width, height := cfg.GraphWidth, cfg.GraphHeight
	if width <= 0 {
		width = 340
	}
	if height <= 0 {
		height = 100
	}
	return &Builder{base: base, width: width, height: height, ranges: cfg.TimeRanges}
}

// At binds the builder to a reference time.
func (b *Builder) At(now time.Time) Linker {
	return Linker{b: b, now: now}
}

// Generate renders page plus params in the given order. Empty values are
// skipped, "0" is kept.
func (b *Builder) Generate(page string, params ...Param) string {
	var sb strings.Builder
	sb.WriteString(b.base)
	if page != "" {
		sb.WriteString(url.PathEscape(page))
		sb.WriteByte('/')
	}
	for _, p := range params {
		if p.Value == "" {
			continue
		}
		sb.WriteString(url.PathEscape(p.Key))
		sb.WriteByte('=')
		sb.WriteString(url.PathEscape(p.Value))
		sb.WriteByte('/')
	}
	return sb.String()
}

func (b *Builder) span(p Period) time.Duration {
	var d time.Duration
	switch p {
	case PeriodWeek:
		d = b.ranges.Week
	case PeriodMonth:
		d = b.ranges.Month
	case PeriodYear:
		d = b.ranges.Year
	default:
		d = b.ranges.Day
	}
	if d <= 0 {
		d = 24 * time.Hour
	}
	return d
}

type Linker struct {
	b   *Builder
	now time.Time
}

func (l Linker) Now() time.Time { return l.now }

func (l Linker) From(p Period) int64 {
	return l.now.Add(-l.b.span(p)).Unix()
}

// EntityURL returns the detail page for the entity described by rec.
func (l Linker) EntityURL(kind model.EntityKind, rec model.Occurrence, extra ...Param) (string, error) {
	var params []Param
	page := "device"
	switch kind {
	case model.EntityBill:
		id, err := entityID(rec, "bill_id")
		if err != nil {
			return "", err
		}
		page = "bill"
		params = []Param{P("bill_id", id)}
	case model.EntityPort:
		dev, err := entityID(rec, "device_id")
		if err != nil {
			return "", err
		}
		port, err := entityID(rec, "port_id")
		if err != nil {
			return "", err
		}
		params = []Param{P("device", dev), P("tab", "port"), P("port", port)}
	case model.EntityAccessPoint:
		dev, err := entityID(rec, "device_id")
		if err != nil {
			return "", err
		}
		ap, err := entityID(rec, "accesspoint_id")
		if err != nil {
			return "", err
		}
		params = []Param{P("device", dev), P("tab", "accesspoints"), P("ap", ap)}
	case model.EntitySensor:
		id, err := entityID(rec, "sensor_id")
		if err != nil {
			return "", err
		}
		page = "graphs"
		params = []Param{P("id", id), P("type", SensorGraphType(rec)), P("from", l.From(PeriodDay))}
	case model.EntityDevice, model.EntityApplication:
		dev, err := entityID(rec, "device_id")
		if err != nil {
			return "", err
		}
		params = []Param{P("device", dev)}
	default:
		return "", fmt.Errorf("unsupported entity kind %q", kind)
	}
	params = append(params, extra...)
	return l.b.Generate(page, params...), nil
}

// GraphURL returns the graph image for one period ending at the reference time.
func (l Linker) GraphURL(graphType string, id int64, p Period) string {
	v := url.Values{}
	v.Set("type", graphType)
	v.Set("id", strconv.FormatInt(id, 10))
	v.Set("from", strconv.FormatInt(l.From(p), 10))
	v.Set("to", strconv.FormatInt(l.now.Unix(), 10))
	v.Set("width", strconv.Itoa(l.b.width))
	v.Set("height", strconv.Itoa(l.b.height))
	v.Set("legend", "yes")
	return l.b.base + "graph.php?" + v.Encode()
}

// Graphs returns the graph URLs for every period in display order.
func (l Linker) Graphs(graphType string, id int64) []string {
	out := make([]string, 0, len(Periods))
	for _, p := range Periods {
		out = append(out, l.GraphURL(graphType, id, p))
	}
	return out
}

func SensorGraphType(rec model.Occurrence) string {
	return "sensor_" + rec.String("sensor_class")
}

func entityID(rec model.Occurrence, field string) (int64, error) {
	id, ok := rec.Int(field)
	if !ok || id <= 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidEntityID, field, rec.String(field))
	}
	return id, nil
}

// EntityID exposes the id validation used by EntityURL.
func EntityID(rec model.Occurrence, field string) (int64, error) {
	return entityID(rec, field)
}

// Link is an anchor. Text is inserted as-is; callers escape it when the
// source is untrusted.
type Link struct {
	URL    string
	Text   string
	Class  string
	Graphs []string
}

func (k Link) HTML() string {
	var sb strings.Builder
	sb.WriteString(`<a href="`)
	sb.WriteString(html.EscapeString(k.URL))
	sb.WriteByte('"')
	if k.Class != "" {
		sb.WriteString(` class="`)
		sb.WriteString(html.EscapeString(k.Class))
		sb.WriteByte('"')
	}
	if len(k.Graphs) > 0 {
		sb.WriteString(` data-graph="`)
		sb.WriteString(html.EscapeString(k.Graphs[0]))
		sb.WriteByte('"')
		if len(k.Graphs) > 1 {
			sb.WriteString(` data-graphs="`)
			sb.WriteString(html.EscapeString(strings.Join(k.Graphs, " ")))
			sb.WriteByte('"')
		}
	}
	sb.WriteByte('>')
	sb.WriteString(k.Text)
	sb.WriteString("</a>")
	return sb.String()
}

// PortClass maps interface status to the CSS class used for port links.
func PortClass(rec model.Occurrence) string {
	switch {
	case strings.EqualFold(rec.String("ifAdminStatus"), "down"):
		return "interface-admindown"
	case strings.EqualFold(rec.String("ifOperStatus"), "down"):
		return "interface-updown"
	}
	return "interface-upup"
}
