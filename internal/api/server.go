// Package api serves fault details, the alert log report and the feed of
// recently fired alerts over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"alertdetail/internal/config"
	"alertdetail/internal/engine"
	"alertdetail/internal/metrics"
	"alertdetail/internal/model"
	"alertdetail/internal/render"
	"alertdetail/internal/report"
	"alertdetail/internal/snapshot"
	"alertdetail/internal/storage"
)

// Principal headers set by the authenticating proxy in front of the API.
const (
	HeaderPrincipal   = "X-Principal"
	HeaderPrincipalID = "X-Principal-ID"
	HeaderGlobalRead  = "X-Global-Read"
)

type Server struct {
	cfg     *config.Manager
	engine  *engine.Engine
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string       `json:"status"`
	Time       string       `json:"time"`
	Started    string       `json:"started"`
	Version    string       `json:"version"`
	ConfigPath string       `json:"config_path"`
	Access     bool         `json:"access_control"`
	Storage    bool         `json:"storage"`
	Ingest     ingestStatus `json:"ingest"`
	Feed       int          `json:"feed_entries"`
	Detectors  []string     `json:"detectors"`
}

type ingestStatus struct {
	REST  bool `json:"rest"`
	Kafka bool `json:"kafka"`
}

func NewServer(cfg *config.Manager, eng *engine.Engine, logger *slog.Logger, version string) *Server {
	return &Server{cfg: cfg, engine: eng, logger: logger, version: version}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/alerts/details", s.handleDetails)
	mux.HandleFunc("/feed", s.handleFeed)
	mux.HandleFunc("/reports/alertlog", s.handleAlertLog)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func Start(ctx context.Context, cfg *config.Manager, eng *engine.Engine, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewServer(cfg, eng, logger, version).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Started:    s.engine.Started().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Access:     cfg.Access.Enabled,
		Storage:    s.engine.Store() != nil,
		Ingest: ingestStatus{
			REST:  cfg.Ingest.REST.Enabled,
			Kafka: cfg.Ingest.Kafka.Enabled,
		},
		Feed:      s.engine.Feed().Len(),
		Detectors: render.DetectorNames(),
	})
}

// handleDetails renders one alert's fault detail, addressed either by
// alert_log id or by rule_id and device_id.
func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	p := principalFrom(r)
	mode := model.ModeLinked
	if v := q.Get("links"); v != "" {
		mode = model.ParseMode(v)
	}
	if v := q.Get("mode"); v != "" {
		mode = model.ParseMode(v)
	}

	var (
		text string
		err  error
	)
	if id, ok := intParam(q.Get("id")); ok {
		text, err = s.detailsByID(r.Context(), id, p, mode)
	} else {
		ruleID, okRule := intParam(q.Get("rule_id"))
		deviceID, okDevice := intParam(q.Get("device_id"))
		if !okRule || !okDevice {
			writeError(w, http.StatusBadRequest, "rule_id and device_id are required")
			return
		}
		if !s.engine.CanView(r.Context(), deviceID, p) {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}
		text, err = s.engine.Details(r.Context(), ruleID, deviceID, p, mode)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":    mode.String(),
		"details": text,
	})
}

func (s *Server) detailsByID(ctx context.Context, id int64, p model.Principal, mode model.Mode) (string, error) {
	st := s.engine.Store()
	if st == nil {
		return "", storage.ErrStorageDisabled
	}
	row, err := st.AlertDetailsByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !s.engine.CanView(ctx, row.DeviceID, p) {
		return "", errForbidden
	}
	return s.engine.RenderBlob(ctx, row.Details, p, mode)
}

func (s *Server) handleAlertLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st := s.engine.Store()
	if st == nil {
		s.fail(w, storage.ErrStorageDisabled)
		return
	}
	q := r.URL.Query()
	req := report.Request{
		Rule:      q.Get("string"),
		Principal: principalFrom(r),
	}
	req.DeviceID, _ = intParam(q.Get("device_id"))
	if n, err := strconv.Atoi(q.Get("results")); err == nil {
		req.Results = n
	}
	if n, err := strconv.Atoi(q.Get("start")); err == nil {
		req.Start = n
	}
	composer := report.NewComposer(st, s.engine, s.cfg.Get().Report, s.logger)
	rep, err := composer.Compose(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleFeed lists recently fired alerts the caller may view, oldest first.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.FeedEntry
	if since := r.URL.Query().Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.engine.Feed().Since(ts)
	} else {
		list = s.engine.Feed().List(0)
	}

	p := principalFrom(r)
	visible := make([]model.FeedEntry, 0, len(list))
	for _, entry := range list {
		if s.engine.CanView(r.Context(), entry.DeviceID, p) {
			visible = append(visible, entry)
		}
	}
	if limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": visible,
		"count":  len(visible),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !principalFrom(r).GlobalRead {
		writeError(w, http.StatusForbidden, "insufficient permissions")
		return
	}
	s.engine.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

var errForbidden = errors.New("insufficient permissions")

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && s.logger != nil {
		s.logger.Error("api request failed", "err", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var renderErr *render.RenderError
	switch {
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrStorageDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, snapshot.ErrDecompression), errors.Is(err, snapshot.ErrDeserialization):
		return http.StatusUnprocessableEntity
	case errors.As(err, &renderErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func principalFrom(r *http.Request) model.Principal {
	p := model.Principal{Name: strings.TrimSpace(r.Header.Get(HeaderPrincipal))}
	if id, ok := intParam(r.Header.Get(HeaderPrincipalID)); ok {
		p.ID = id
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(r.Header.Get(HeaderGlobalRead))); err == nil {
		p.GlobalRead = v
	}
	return p
}

func intParam(v string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
