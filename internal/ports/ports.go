package ports

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"alertdetail/internal/config"
	"alertdetail/internal/model"
)

// DeviceSource resolves the device a port belongs to.
type DeviceSource interface {
	Device(ctx context.Context, id int64) (model.Device, error)
}

type rewriteRule struct {
	match   string
	replace string
}

type regexpRule struct {
	re      *regexp.Regexp
	replace string
}

// Cleaner resolves the display label of an interface record.
type Cleaner struct {
	ifName  map[string]struct{}
	ifAlias map[string]struct{}
	ifIndex map[string]struct{}
	rewrite []rewriteRule
	regexps []regexpRule
	devices DeviceSource
}

func NewCleaner(cfg config.PortsConfig, devices DeviceSource) (*Cleaner, error) {
	c := &Cleaner{
		ifName:  buildOSSet(cfg.OSIfName),
		ifAlias: buildOSSet(cfg.OSIfAlias),
		ifIndex: buildOSSet(cfg.OSIfIndex),
		devices: devices,
	}
	for _, src := range sortedKeys(cfg.RewriteIf) {
		if src == "" {
			continue
		}
		c.rewrite = append(c.rewrite, rewriteRule{match: strings.ToLower(src), replace: cfg.RewriteIf[src]})
	}
	for _, expr := range sortedKeys(cfg.RewriteIfRegexp) {
		re, err := config.CompileRewriteRegexp(expr)
		if err != nil {
			return nil, fmt.Errorf("rewrite_if_regexp %q: %w", expr, err)
		}
		c.regexps = append(c.regexps, regexpRule{re: re, replace: cfg.RewriteIfRegexp[expr]})
	}
	return c, nil
}

// CleanInterfaceLabel returns a copy of rec with ifAlias, ifName and ifDescr
// HTML-escaped and "label" set for the device OS. It is idempotent.
func (c *Cleaner) CleanInterfaceLabel(ctx context.Context, rec model.Occurrence) (model.Occurrence, error) {
	out := rec.Clone()
	for _, field := range []string{"ifAlias", "ifName", "ifDescr"} {
		if out.Has(field) {
			out[field] = display(out.String(field))
		}
	}

	osName := strings.ToLower(out.String("os"))
	if osName == "" {
		dev, ok, err := c.lookupDevice(ctx, out)
		if err != nil {
			return nil, err
		}
		if ok {
			osName = strings.ToLower(dev.OS)
			if !out.Has("hostname") && dev.Hostname != "" {
				out["hostname"] = dev.Hostname
			}
		}
	}

	var label string
	switch {
	case has(c.ifName, osName):
		label = out.String("ifName")
		if label == "" {
			label = out.String("ifDescr")
		}
	case has(c.ifAlias, osName):
		label = out.String("ifAlias")
	default:
		label = out.String("ifDescr")
		if has(c.ifIndex, osName) {
			label = label + " " + out.String("ifIndex")
		}
	}

	if osName == "speedtouch" {
		label, _, _ = strings.Cut(label, "thomson")
	}

	for _, r := range c.rewrite {
		if strings.Contains(strings.ToLower(label), r.match) {
			label = r.replace
		}
	}
	for _, r := range c.regexps {
		if r.re.MatchString(label) {
			label = r.re.ReplaceAllString(label, r.replace)
		}
	}

	out["label"] = label
	return out, nil
}

func (c *Cleaner) lookupDevice(ctx context.Context, rec model.Occurrence) (model.Device, bool, error) {
	if c.devices == nil {
		return model.Device{}, false, nil
	}
	id, ok := rec.Int("device_id")
	if !ok || id <= 0 {
		return model.Device{}, false, nil
	}
	dev, err := c.devices.Device(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Device{}, false, nil
		}
		return model.Device{}, false, fmt.Errorf("lookup device %d: %w", id, err)
	}
	return dev, true, nil
}

// display escapes markup; unescaping first keeps repeated calls stable.
func display(s string) string {
	return html.EscapeString(html.UnescapeString(s))
}

func buildOSSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

func has(set map[string]struct{}, key string) bool {
	if set == nil || key == "" {
		return false
	}
	_, ok := set[key]
	return ok
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
