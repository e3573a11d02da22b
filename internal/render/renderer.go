// Package render turns decoded alert snapshots into fault detail text.
//
// Each occurrence is run through a fixed, ordered list of detectors. Every
// detector whose governing field is set contributes a fragment, so one
// record can render as both a port link and a type/label pair. Records no
// detector recognizes fall back to a dump of their id-like fields.
package render

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"alertdetail/internal/links"
	"alertdetail/internal/model"
	"alertdetail/internal/ports"
)

// InterfaceCleaner resolves and escapes interface labels. It must not
// modify its input.
type InterfaceCleaner interface {
	CleanInterfaceLabel(ctx context.Context, rec model.Occurrence) (model.Occurrence, error)
}

type AccessChecker interface {
	CanAccess(ctx context.Context, kind model.EntityKind, id, deviceID int64, p model.Principal) bool
}

// RenderContext carries the request-scoped inputs of a render call.
type RenderContext struct {
	Principal model.Principal
	Now       time.Time
}

// RenderError reports a collaborator failure while rendering one occurrence.
type RenderError struct {
	Occurrence int
	Detector   string
	Err        error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render occurrence #%d (%s): %v", e.Occurrence, e.Detector, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

const fragmentSeparator = "; "

// fallback never looks at these, even though some contain "id" or "desc".
var fallbackExcluded = map[string]struct{}{
	"device_id":   {},
	"sysObjectID": {},
	"sysDescr":    {},
	"location_id": {},
}

var fallbackMarkers = []string{"id", "desc", "msg", "last"}

type detector struct {
	name   string
	match  func(model.Occurrence) bool
	format func(*pass, model.Occurrence) (string, error)
}

func truthy(field string) func(model.Occurrence) bool {
	return func(rec model.Occurrence) bool { return rec.Truthy(field) }
}

var detectors = []detector{
	{name: "bill", match: truthy("bill_id"), format: (*pass).bill},
	{name: "port", match: truthy("port_id"), format: (*pass).port},
	{name: "accesspoint", match: truthy("accesspoint_id"), format: (*pass).accessPoint},
	{name: "sensor", match: truthy("sensor_id"), format: (*pass).sensor},
	{name: "bgp", match: truthy("bgpPeer_id"), format: (*pass).bgpPeer},
	{name: "typelabel", match: func(rec model.Occurrence) bool {
		return rec.Truthy("type") && rec.Truthy("label")
	}, format: (*pass).typeLabel},
	// app_id is tested for presence only; app_id 0 is a real application.
	{name: "app", match: func(rec model.Occurrence) bool { return rec.Has("app_id") }, format: (*pass).app},
}

// DetectorNames lists detectors in evaluation order, plus "fallback".
func DetectorNames() []string {
	out := make([]string, 0, len(detectors)+1)
	for _, d := range detectors {
		out = append(out, d.name)
	}
	return append(out, "fallback")
}

// Renderer holds only immutable collaborators and is safe for concurrent use.
type Renderer struct {
	links   *links.Builder
	cleaner InterfaceCleaner
	access  AccessChecker
	onMatch func(detector string)
}

func New(builder *links.Builder, cleaner InterfaceCleaner, access AccessChecker) *Renderer {
	return &Renderer{links: builder, cleaner: cleaner, access: access}
}

// OnMatch registers a hook called once per matching detector. It must be
// set before the renderer is shared and must itself be concurrency safe.
func (r *Renderer) OnMatch(fn func(detector string)) {
	r.onMatch = fn
}

// Render formats every occurrence of snap as "#<n>:<fragments><break>".
func (r *Renderer) Render(ctx context.Context, rc RenderContext, snap model.Snapshot, mode model.Mode) (string, error) {
	if rc.Now.IsZero() {
		rc.Now = time.Now()
	}
	p := &pass{ctx: ctx, r: r, rc: rc, mode: mode, linker: r.links.At(rc.Now)}
	brk := lineBreak(mode)

	var out strings.Builder
	for i, rec := range snap.Rule {
		out.WriteString("#")
		out.WriteString(strconv.Itoa(i + 1))
		out.WriteString(":")

		var fragments []string
		matched := false
		for _, d := range detectors {
			if !d.match(rec) {
				continue
			}
			matched = true
			frag, err := d.format(p, rec)
			if err != nil {
				return "", &RenderError{Occurrence: i + 1, Detector: d.name, Err: err}
			}
			r.observe(d.name)
			fragments = append(fragments, frag)
		}
		if !matched {
			if dump := fallback(rec, snap.Keys(i), mode); dump != "" {
				r.observe("fallback")
				fragments = append(fragments, dump)
			}
		}

		out.WriteString(strings.Join(fragments, fragmentSeparator))
		out.WriteString(brk)
	}
	return out.String(), nil
}

func (r *Renderer) observe(name string) {
	if r.onMatch != nil {
		r.onMatch(name)
	}
}

func lineBreak(mode model.Mode) string {
	if mode == model.ModePlain {
		return "\n"
	}
	return "<br>"
}

// pass is the state of one Render call.
type pass struct {
	ctx    context.Context
	r      *Renderer
	rc     RenderContext
	mode   model.Mode
	linker links.Linker
}

func (p *pass) allowed(kind model.EntityKind, id, deviceID int64) bool {
	if p.r.access == nil {
		return true
	}
	return p.r.access.CanAccess(p.ctx, kind, id, deviceID, p.rc.Principal)
}

func (p *pass) clean(rec model.Occurrence) (model.Occurrence, error) {
	if p.r.cleaner == nil {
		return rec, nil
	}
	return p.r.cleaner.CleanInterfaceLabel(p.ctx, rec)
}

func intField(rec model.Occurrence, field string) int64 {
	n, _ := rec.Int(field)
	return n
}

// linked reports whether anchors are wanted. Plain mode never builds URLs,
// so records without usable ids still render their text.
func (p *pass) linked() bool {
	return p.mode == model.ModeLinked
}

// text is the label of an entity rendered without a link.
func (p *pass) text(s string) string {
	if p.mode == model.ModePlain {
		return StripMarkup(s)
	}
	return s
}

func (p *pass) bill(rec model.Occurrence) (string, error) {
	name := rec.String("bill_name")
	if !p.linked() || !p.allowed(model.EntityBill, intField(rec, "bill_id"), 0) {
		return p.text(name), nil
	}
	url, err := p.linker.EntityURL(model.EntityBill, rec)
	if err != nil {
		return "", err
	}
	return links.Link{URL: url, Text: name}.HTML(), nil
}

func (p *pass) port(rec model.Occurrence) (string, error) {
	port, err := p.clean(rec)
	if err != nil {
		return "", err
	}
	text := ports.FixIfName(port.String("label"))
	portID := intField(port, "port_id")
	if !p.linked() || !p.allowed(model.EntityPort, portID, intField(port, "device_id")) {
		return p.text(text), nil
	}
	url, err := p.linker.EntityURL(model.EntityPort, port)
	if err != nil {
		return "", err
	}
	return links.Link{
		URL:    url,
		Text:   text,
		Class:  links.PortClass(port),
		Graphs: p.linker.Graphs(graphType(port, "port_bits"), portID),
	}.HTML(), nil
}

func (p *pass) accessPoint(rec model.Occurrence) (string, error) {
	ap, err := p.clean(rec)
	if err != nil {
		return "", err
	}
	text := ap.String("name")
	if text == "" {
		text = ports.FixIfName(ap.String("label"))
	}
	// Access points share the permission of the interface they hang off.
	if !p.linked() || !p.allowed(model.EntityAccessPoint, intField(ap, "interface_id"), intField(ap, "device_id")) {
		return p.text(text), nil
	}
	url, err := p.linker.EntityURL(model.EntityAccessPoint, ap)
	if err != nil {
		return "", err
	}
	return links.Link{
		URL:    url,
		Text:   text,
		Graphs: p.linker.Graphs(graphType(ap, "accesspoint_bits"), intField(ap, "accesspoint_id")),
	}.HTML(), nil
}

func (p *pass) sensor(rec model.Occurrence) (string, error) {
	var detail strings.Builder
	if rec.String("sensor_class") == "state" {
		fmt.Fprintf(&detail, "State: %s (numerical %s)", rec.String("state_descr"), rec.String("sensor_current"))
	} else {
		fmt.Fprintf(&detail, "Value: %s (%s)", rec.String("sensor_current"), rec.String("sensor_class"))
	}
	for _, limit := range []struct{ field, label string }{
		{"sensor_limit_low", "low"},
		{"sensor_limit_low_warn", "low_warn"},
		{"sensor_limit_warn", "high_warn"},
		{"sensor_limit", "high"},
	} {
		if rec.Truthy(limit.field) {
			detail.WriteString(", ")
			detail.WriteString(limit.label)
			detail.WriteString(": ")
			detail.WriteString(rec.String(limit.field))
		}
	}

	text := rec.String("name")
	if text == "" {
		text = rec.String("sensor_descr")
	}
	sensorID := intField(rec, "sensor_id")
	head := p.text(text)
	if p.linked() && p.allowed(model.EntitySensor, sensorID, intField(rec, "device_id")) {
		url, err := p.linker.EntityURL(model.EntitySensor, rec)
		if err != nil {
			return "", err
		}
		head = links.Link{
			URL:    url,
			Text:   text,
			Graphs: p.linker.Graphs(links.SensorGraphType(rec), sensorID),
		}.HTML()
	}

	if p.mode == model.ModePlain {
		return head + "\n" + StripMarkup(detail.String()), nil
	}
	return head + "<br>" + detail.String(), nil
}

func (p *pass) bgpPeer(rec model.Occurrence) (string, error) {
	peer := rec.String("bgpPeerIdentifier")
	if p.linked() && p.allowed(model.EntityDevice, 0, intField(rec, "device_id")) {
		url, err := p.linker.EntityURL(model.EntityDevice, rec, links.P("tab", "routing"), links.P("proto", "bgp"))
		if err != nil {
			return "", err
		}
		peer = links.Link{URL: url, Text: peer}.HTML()
	}
	return "BGP peer " + peer + ", AS" + rec.String("bgpPeerRemoteAs") + ", State " + rec.String("bgpPeerState"), nil
}

func (p *pass) typeLabel(rec model.Occurrence) (string, error) {
	s := rec.String("type") + " - " + rec.String("label")
	if errText := rec.String("error"); errText != "" {
		s += " - " + errText
	}
	return s, nil
}

func (p *pass) app(rec model.Occurrence) (string, error) {
	metric := p.text(rec.String("metric"))
	if p.linked() && p.allowed(model.EntityApplication, intField(rec, "app_id"), intField(rec, "device_id")) {
		url, err := p.linker.EntityURL(model.EntityApplication, rec, links.P("tab", "apps"), links.P("app", rec.String("app_type")))
		if err != nil {
			return "", err
		}
		metric = links.Link{URL: url, Text: metric}.HTML()
	}
	return metric + " => " + rec.String("value"), nil
}

func graphType(rec model.Occurrence, def string) string {
	if t := rec.String("graph_type"); t != "" {
		return t
	}
	return def
}

// fallback dumps the id-like fields of rec, in the order given by keys.
func fallback(rec model.Occurrence, keys []string, mode model.Mode) string {
	var pairs []string
	for _, k := range keys {
		if _, skip := fallbackExcluded[k]; skip {
			continue
		}
		if !rec.Truthy(k) || !hasMarker(k) {
			continue
		}
		pairs = append(pairs, k+" => '"+rec.String(k)+"'")
	}
	sep := "<br>&nbsp;&nbsp;&nbsp;"
	if mode == model.ModePlain {
		sep = "\n   "
	}
	return strings.Join(pairs, sep)
}

func hasMarker(field string) bool {
	lower := strings.ToLower(field)
	for _, m := range fallbackMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
