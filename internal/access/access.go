package access

import (
	"context"
	"log/slog"
	"strings"

	"alertdetail/internal/config"
	"alertdetail/internal/model"
)

// PermissionSource answers per-user grants kept outside the config file.
type PermissionSource interface {
	DevicePermitted(ctx context.Context, userID, deviceID int64) (bool, error)
	BillPermitted(ctx context.Context, userID, billID int64) (bool, error)
	PortPermitted(ctx context.Context, userID, portID int64) (bool, error)
}

type idSet map[int64]struct{}

type Checker struct {
	enabled    bool
	globalRead map[string]struct{}
	devices    map[string]idSet
	bills      map[string]idSet
	ports      map[string]idSet
	source     PermissionSource
	logger     *slog.Logger
}

func NewChecker(cfg config.AccessConfig, source PermissionSource, logger *slog.Logger) *Checker {
	c := &Checker{enabled: cfg.Enabled, source: source, logger: logger}
	if !c.enabled {
		return c
	}
	c.globalRead = buildNameSet(cfg.GlobalRead)
	c.devices = buildIDMap(cfg.Devices)
	c.bills = buildIDMap(cfg.Bills)
	c.ports = buildIDMap(cfg.Ports)
	return c
}

// AllowAll returns a checker that permits every entity.
func AllowAll() *Checker {
	return &Checker{}
}

func buildNameSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		name := normalizeName(v)
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func buildIDMap(values map[string][]int64) map[string]idSet {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]idSet, len(values))
	for name, ids := range values {
		name = normalizeName(name)
		if name == "" || len(ids) == 0 {
			continue
		}
		set := out[name]
		if set == nil {
			set = make(idSet, len(ids))
			out[name] = set
		}
		for _, id := range ids {
			if id > 0 {
				set[id] = struct{}{}
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CanAccess reports whether p may follow a link to the entity. id is the
// entity's own id; deviceID is the owning device, or 0 when unknown.
// Access points are checked against the port they hang off, so callers pass
// the interface id for them.
func (c *Checker) CanAccess(ctx context.Context, kind model.EntityKind, id, deviceID int64, p model.Principal) bool {
	if c == nil || !c.enabled {
		return true
	}
	if p.GlobalRead || c.isGlobal(p) {
		return true
	}
	switch kind {
	case model.EntityBill:
		return c.staticGrant(c.bills, p, id) || c.ask(ctx, kind, p, id, c.billPermitted)
	case model.EntityPort, model.EntityAccessPoint:
		if c.devicePermitted(ctx, p, deviceID) {
			return true
		}
		return c.staticGrant(c.ports, p, id) || c.ask(ctx, kind, p, id, c.portPermitted)
	case model.EntityDevice, model.EntitySensor, model.EntityApplication:
		return c.devicePermitted(ctx, p, deviceID)
	}
	return false
}

func (c *Checker) isGlobal(p model.Principal) bool {
	if c.globalRead == nil {
		return false
	}
	_, ok := c.globalRead[normalizeName(p.Name)]
	return ok
}

func (c *Checker) staticGrant(grants map[string]idSet, p model.Principal, id int64) bool {
	if grants == nil || id <= 0 {
		return false
	}
	set, ok := grants[normalizeName(p.Name)]
	if !ok {
		return false
	}
	_, ok = set[id]
	return ok
}

func (c *Checker) devicePermitted(ctx context.Context, p model.Principal, deviceID int64) bool {
	if deviceID <= 0 {
		return false
	}
	if c.staticGrant(c.devices, p, deviceID) {
		return true
	}
	return c.ask(ctx, model.EntityDevice, p, deviceID, c.deviceSourcePermitted)
}

func (c *Checker) deviceSourcePermitted(ctx context.Context, userID, id int64) (bool, error) {
	return c.source.DevicePermitted(ctx, userID, id)
}

func (c *Checker) billPermitted(ctx context.Context, userID, id int64) (bool, error) {
	return c.source.BillPermitted(ctx, userID, id)
}

func (c *Checker) portPermitted(ctx context.Context, userID, id int64) (bool, error) {
	return c.source.PortPermitted(ctx, userID, id)
}

func (c *Checker) ask(ctx context.Context, kind model.EntityKind, p model.Principal, id int64, fn func(context.Context, int64, int64) (bool, error)) bool {
	if c.source == nil || p.ID <= 0 || id <= 0 {
		return false
	}
	ok, err := fn(ctx, p.ID, id)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("permission lookup failed", "kind", kind, "id", id, "principal", p.Name, "err", err)
		}
		return false
	}
	return ok
}
