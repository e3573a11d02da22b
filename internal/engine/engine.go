// Package engine wires the snapshot decoder and renderer to storage, the
// permission checker and the recent-alerts feed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"alertdetail/internal/access"
	"alertdetail/internal/config"
	"alertdetail/internal/feed"
	"alertdetail/internal/links"
	"alertdetail/internal/metrics"
	"alertdetail/internal/model"
	"alertdetail/internal/ports"
	"alertdetail/internal/render"
	"alertdetail/internal/snapshot"
	"alertdetail/internal/storage"
)

// feedPrincipal renders feed entries; viewers are filtered at read time.
var feedPrincipal = model.Principal{Name: "feed", GlobalRead: true}

type Engine struct {
	logger   *slog.Logger
	feed     *feed.Store
	store    storage.Store
	cfg      atomic.Value
	pipeline atomic.Pointer[pipeline]
	started  time.Time
	deDupe   atomic.Pointer[DedupeCache]
	now      func() time.Time
}

type pipeline struct {
	renderer *render.Renderer
	checker  *access.Checker
}

func NewEngine(cfg *config.Config, logger *slog.Logger, feedStore *feed.Store, store storage.Store) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if feedStore == nil {
		feedStore = feed.NewStore(cfg.Feed.StoreLimit)
	}
	e := &Engine{
		logger:  logger,
		feed:    feedStore,
		store:   store,
		started: time.Now().UTC(),
		now:     time.Now,
	}
	e.deDupe.Store(NewDedupeCache(cfg.Ingest.DedupeWindow))
	if err := e.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateConfig swaps in a renderer built from cfg. On error the previous
// configuration stays active.
func (e *Engine) UpdateConfig(cfg *config.Config) error {
	p, err := e.buildPipeline(cfg)
	if err != nil {
		return err
	}
	e.cfg.Store(cfg)
	e.pipeline.Store(p)
	e.deDupe.Load().SetWindow(cfg.Ingest.DedupeWindow)
	return nil
}

func (e *Engine) buildPipeline(cfg *config.Config) (*pipeline, error) {
	var (
		devices ports.DeviceSource
		perms   access.PermissionSource
	)
	if e.store != nil {
		devices = e.store
		perms = e.store
	}
	cleaner, err := ports.NewCleaner(cfg.Ports, devices)
	if err != nil {
		return nil, fmt.Errorf("ports config: %w", err)
	}
	checker := access.NewChecker(cfg.Access, perms, e.logger)
	r := render.New(links.NewBuilder(cfg.Links), cleaner, checker)
	r.OnMatch(metrics.RecordDetectorMatch)
	return &pipeline{renderer: r, checker: checker}, nil
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Feed() *feed.Store { return e.feed }

func (e *Engine) Store() storage.Store { return e.store }

func (e *Engine) Started() time.Time { return e.started }

// Details renders the latest active alert_log entry for rule and device.
func (e *Engine) Details(ctx context.Context, ruleID, deviceID int64, p model.Principal, mode model.Mode) (string, error) {
	if e.store == nil {
		return "", storage.ErrStorageDisabled
	}
	row, err := e.store.LatestAlertDetails(ctx, ruleID, deviceID)
	if err != nil {
		return "", err
	}
	return e.RenderBlob(ctx, row.Details, p, mode)
}

// RenderBlob decodes a stored details blob and renders it.
func (e *Engine) RenderBlob(ctx context.Context, blob []byte, p model.Principal, mode model.Mode) (string, error) {
	start := time.Now()
	snap, err := snapshot.Decode(blob)
	metrics.RecordDecode(decodeOutcome(err))
	if err != nil {
		metrics.RecordRender(mode.String(), "decode_error", time.Since(start))
		if e.logger != nil {
			e.logger.Warn("snapshot decode failed", "mode", mode.String(), "err", err)
		}
		return "", err
	}
	return e.render(ctx, snap, p, mode, start)
}

// RenderSnapshot renders an already decoded snapshot.
func (e *Engine) RenderSnapshot(ctx context.Context, snap model.Snapshot, p model.Principal, mode model.Mode) (string, error) {
	return e.render(ctx, snap, p, mode, time.Now())
}

func (e *Engine) render(ctx context.Context, snap model.Snapshot, p model.Principal, mode model.Mode, start time.Time) (string, error) {
	rc := render.RenderContext{Principal: p, Now: e.now()}
	out, err := e.pipeline.Load().renderer.Render(ctx, rc, snap, mode)
	if err != nil {
		metrics.RecordRender(mode.String(), "render_error", time.Since(start))
		if e.logger != nil {
			e.logger.Warn("fault detail render failed", "mode", mode.String(), "principal", p.Name, "err", err)
		}
		return "", err
	}
	metrics.RecordRender(mode.String(), "ok", time.Since(start))
	return out, nil
}

// CanView reports whether p may see alerts of deviceID.
func (e *Engine) CanView(ctx context.Context, deviceID int64, p model.Principal) bool {
	return e.pipeline.Load().checker.CanAccess(ctx, model.EntityDevice, deviceID, deviceID, p)
}

func decodeOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, snapshot.ErrDecompression):
		return "decompression"
	case errors.Is(err, snapshot.ErrDeserialization):
		return "deserialization"
	}
	return "error"
}

// Start consumes notifications until ctx is done.
func (e *Engine) Start(ctx context.Context, in <-chan model.Notification) {
	go func() {
		for {
			select {
			case n := <-in:
				e.ProcessNotification(ctx, n)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessNotification renders an alert-fired notification in both modes and
// appends it to the feed. Duplicates inside the dedupe window are dropped.
func (e *Engine) ProcessNotification(ctx context.Context, n model.Notification) (model.FeedEntry, bool) {
	source := n.Source
	if source == "" {
		source = "unknown"
	}
	if e.deDupe.Load().Repeat(n, e.now().UTC()) {
		metrics.RecordIngest(source, "duplicate")
		return model.FeedEntry{}, false
	}

	entry := model.FeedEntry{
		Timestamp: n.TimeLogged,
		RuleID:    n.RuleID,
		DeviceID:  n.DeviceID,
		Name:      n.Name,
		Severity:  n.Severity,
		Source:    n.Source,
	}
	snap, err := snapshot.Decode(n.Details)
	metrics.RecordDecode(decodeOutcome(err))
	if err == nil {
		entry.FaultDetail, err = e.RenderSnapshot(ctx, snap, feedPrincipal, model.ModeLinked)
	}
	if err == nil {
		entry.FaultText, err = e.RenderSnapshot(ctx, snap, feedPrincipal, model.ModePlain)
	}
	outcome := "rendered"
	if err != nil {
		outcome = "failed"
		entry.FaultDetail, entry.FaultText = "", ""
		entry.Error = err.Error()
		if e.logger != nil {
			e.logger.Warn("notification render failed",
				"rule_id", n.RuleID,
				"device_id", n.DeviceID,
				"source", source,
				"err", err,
			)
		}
	}
	entry = e.feed.Add(entry)
	metrics.RecordIngest(source, outcome)
	metrics.SetFeedSize(e.feed.Len())
	if e.logger != nil {
		e.logger.Info("alert notification",
			"id", entry.ID,
			"rule_id", entry.RuleID,
			"device_id", entry.DeviceID,
			"severity", entry.Severity,
			"outcome", outcome,
		)
	}
	return entry, true
}

// Reset clears the feed and the dedupe cache.
func (e *Engine) Reset() {
	e.feed.Clear()
	e.deDupe.Store(NewDedupeCache(e.config().Ingest.DedupeWindow))
	metrics.SetFeedSize(0)
}
