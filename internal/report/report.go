// Package report composes the alert log report: a filtered page of
// alert_log rows, each with its fault detail rendered as plain text.
package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"alertdetail/internal/config"
	"alertdetail/internal/metrics"
	"alertdetail/internal/model"
	"alertdetail/internal/storage"
)

// Unavailable replaces the fault detail of rows that failed to render.
const Unavailable = "unavailable"

type Source interface {
	ListAlertLog(ctx context.Context, q storage.AlertLogQuery) ([]model.AlertLogRow, error)
}

type Renderer interface {
	RenderBlob(ctx context.Context, blob []byte, p model.Principal, mode model.Mode) (string, error)
}

// Request mirrors the report form: device_id, string, results, start.
type Request struct {
	DeviceID  int64
	Rule      string
	Results   int
	Start     int
	Principal model.Principal
}

type Report struct {
	Title     string            `json:"pagetitle"`
	Generated time.Time         `json:"date"`
	Rows      []model.ReportRow `json:"json"`
}

type Composer struct {
	source   Source
	renderer Renderer
	cfg      config.ReportConfig
	logger   *slog.Logger
}

func NewComposer(source Source, renderer Renderer, cfg config.ReportConfig, logger *slog.Logger) *Composer {
	return &Composer{source: source, renderer: renderer, cfg: cfg, logger: logger}
}

// Query applies the configured defaults and caps to req.
func (c *Composer) Query(req Request) storage.AlertLogQuery {
	limit := req.Results
	if limit <= 0 {
		limit = c.cfg.DefaultResults
	}
	if c.cfg.MaxResults > 0 && limit > c.cfg.MaxResults {
		limit = c.cfg.MaxResults
	}
	start := req.Start
	if start < 0 {
		start = 0
	}
	return storage.AlertLogQuery{
		DeviceID:  req.DeviceID,
		Rule:      req.Rule,
		Start:     start,
		Limit:     limit,
		Principal: req.Principal,
	}
}

// Compose lists matching rows and renders them concurrently. A row that
// fails to decode or render keeps its place with an Unavailable detail.
func (c *Composer) Compose(ctx context.Context, req Request) (Report, error) {
	rows, err := c.source.ListAlertLog(ctx, c.Query(req))
	if err != nil {
		return Report{}, fmt.Errorf("list alert log: %w", err)
	}

	out := make([]model.ReportRow, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	workers := c.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = c.composeRow(gctx, row, req.Principal)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	return Report{Title: "Alert Logs", Generated: time.Now().UTC(), Rows: out}, nil
}

func (c *Composer) composeRow(ctx context.Context, row model.AlertLogRow, p model.Principal) model.ReportRow {
	layout := c.cfg.DateFormat
	if layout == "" {
		layout = time.DateTime
	}
	rr := model.ReportRow{AlertLogRow: row, HumanDate: row.TimeLogged.Format(layout)}
	text, err := c.renderer.RenderBlob(ctx, row.Details, p, model.ModePlain)
	if err != nil {
		rr.FaultDetails = Unavailable
		rr.Error = err.Error()
		metrics.RecordReportRow("unavailable")
		if c.logger != nil {
			c.logger.Warn("report row unavailable", "alert_log_id", row.ID, "rule_id", row.RuleID, "device_id", row.DeviceID, "err", err)
		}
		return rr
	}
	rr.FaultDetails = text
	metrics.RecordReportRow("ok")
	return rr
}

// WriteText prints the report as an aligned table, one row per line.
func WriteText(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tSEVERITY\tDEVICE\tALERT\tSTATE\tFAULT DETAILS")
	for _, row := range r.Rows {
		device := row.SysName
		if device == "" {
			device = fmt.Sprintf("device %d", row.DeviceID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			row.HumanDate, row.Severity, device, row.Alert, stateName(row.State), flatten(row.FaultDetails))
	}
	return tw.Flush()
}

func stateName(state int) string {
	switch state {
	case 0:
		return "ok"
	case 1:
		return "alert"
	case 2:
		return "acknowledged"
	case 3:
		return "worse"
	case 4:
		return "better"
	}
	return fmt.Sprintf("state %d", state)
}

func flatten(s string) string {
	s = strings.TrimRight(s, "\n")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\t", " ")
}
