package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string        `json:"log_level" yaml:"log_level"`
	Links    LinksConfig   `json:"links" yaml:"links"`
	Ports    PortsConfig   `json:"ports" yaml:"ports"`
	Access   AccessConfig  `json:"access" yaml:"access"`
	API      APIConfig     `json:"api" yaml:"api"`
	Storage  StorageConfig `json:"storage" yaml:"storage"`
	Ingest   IngestConfig  `json:"ingest" yaml:"ingest"`
	Report   ReportConfig  `json:"report" yaml:"report"`
	Feed     FeedConfig    `json:"feed" yaml:"feed"`
}

type LinksConfig struct {
	BaseURL     string           `json:"base_url" yaml:"base_url"`
	GraphWidth  int              `json:"graph_width" yaml:"graph_width"`
	GraphHeight int              `json:"graph_height" yaml:"graph_height"`
	TimeRanges  TimeRangesConfig `json:"time_ranges" yaml:"time_ranges"`
}

// TimeRangesConfig holds the look-back spans used for graph links.
type TimeRangesConfig struct {
	Day   time.Duration `json:"day" yaml:"day"`
	Week  time.Duration `json:"week" yaml:"week"`
	Month time.Duration `json:"month" yaml:"month"`
	Year  time.Duration `json:"year" yaml:"year"`
}

type PortsConfig struct {
	OSIfName        []string          `json:"os_ifname" yaml:"os_ifname"`
	OSIfAlias       []string          `json:"os_ifalias" yaml:"os_ifalias"`
	OSIfIndex       []string          `json:"os_ifindex" yaml:"os_ifindex"`
	RewriteIf       map[string]string `json:"rewrite_if" yaml:"rewrite_if"`
	RewriteIfRegexp map[string]string `json:"rewrite_if_regexp" yaml:"rewrite_if_regexp"`
}

type AccessConfig struct {
	Enabled    bool               `json:"enabled" yaml:"enabled"`
	GlobalRead []string           `json:"global_read" yaml:"global_read"`
	Devices    map[string][]int64 `json:"devices" yaml:"devices"`
	Bills      map[string][]int64 `json:"bills" yaml:"bills"`
	Ports      map[string][]int64 `json:"ports" yaml:"ports"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type IngestConfig struct {
	ChannelBuffer int           `json:"channel_buffer" yaml:"channel_buffer"`
	DedupeWindow  time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	Timezone      string        `json:"timezone" yaml:"timezone"`
	REST          RESTConfig    `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig   `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ReportConfig struct {
	Workers        int    `json:"workers" yaml:"workers"`
	DefaultResults int    `json:"default_results" yaml:"default_results"`
	MaxResults     int    `json:"max_results" yaml:"max_results"`
	DateFormat     string `json:"date_format" yaml:"date_format"`
}

type FeedConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Links: LinksConfig{
			BaseURL:     "/",
			GraphWidth:  340,
			GraphHeight: 100,
			TimeRanges:  defaultTimeRanges(),
		},
		Ports: PortsConfig{},
		Access: AccessConfig{
			Enabled: false,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:alertdetail.db?_pragma=busy_timeout(5000)"},
		Ingest: IngestConfig{
			ChannelBuffer: 1000,
			DedupeWindow:  30 * time.Second,
			Timezone:      "UTC",
			REST:          RESTConfig{Enabled: false, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
		},
		Report: ReportConfig{Workers: 8, DefaultResults: 250, MaxResults: 5000, DateFormat: "2006-01-02 15:04:05"},
		Feed:   FeedConfig{StoreLimit: 1000},
	}
}

func defaultTimeRanges() TimeRangesConfig {
	return TimeRangesConfig{
		Day:   24 * time.Hour,
		Week:  7 * 24 * time.Hour,
		Month: 31 * 24 * time.Hour,
		Year:  365 * 24 * time.Hour,
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Parse decodes a YAML or JSON document over the defaults.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Links.BaseURL == "" {
		cfg.Links.BaseURL = "/"
	}
	if cfg.Links.GraphWidth <= 0 {
		cfg.Links.GraphWidth = 340
	}
	if cfg.Links.GraphHeight <= 0 {
		cfg.Links.GraphHeight = 100
	}
	def := defaultTimeRanges()
	if cfg.Links.TimeRanges.Day <= 0 {
		cfg.Links.TimeRanges.Day = def.Day
	}
	if cfg.Links.TimeRanges.Week <= 0 {
		cfg.Links.TimeRanges.Week = def.Week
	}
	if cfg.Links.TimeRanges.Month <= 0 {
		cfg.Links.TimeRanges.Month = def.Month
	}
	if cfg.Links.TimeRanges.Year <= 0 {
		cfg.Links.TimeRanges.Year = def.Year
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 1000
	}
	if cfg.Ingest.Timezone == "" {
		cfg.Ingest.Timezone = "UTC"
	}
	if cfg.Report.Workers <= 0 {
		cfg.Report.Workers = 8
	}
	if cfg.Report.DefaultResults <= 0 {
		cfg.Report.DefaultResults = 250
	}
	if cfg.Report.MaxResults <= 0 {
		cfg.Report.MaxResults = 5000
	}
	if cfg.Report.DateFormat == "" {
		cfg.Report.DateFormat = "2006-01-02 15:04:05"
	}
	if cfg.Feed.StoreLimit <= 0 {
		cfg.Feed.StoreLimit = 1000
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver %q unsupported", cfg.Storage.Driver)
		}
	}
	if cfg.Report.DefaultResults > cfg.Report.MaxResults {
		return errors.New("report.default_results must not exceed report.max_results")
	}
	for expr := range cfg.Ports.RewriteIfRegexp {
		if _, err := CompileRewriteRegexp(expr); err != nil {
			return fmt.Errorf("ports.rewrite_if_regexp: %w", err)
		}
	}
	return nil
}

// CompileRewriteRegexp compiles a rewrite pattern case-insensitively. Patterns
// may be written with PCRE delimiters ("/^eth/" or "#ge-#"); trailing flags
// after the closing delimiter are dropped.
func CompileRewriteRegexp(expr string) (*regexp.Regexp, error) {
	body := expr
	if len(expr) >= 2 {
		delim := expr[0]
		if strings.IndexByte("/#~@%!|", delim) >= 0 {
			if end := strings.LastIndexByte(expr, delim); end > 0 {
				body = expr[1:end]
			}
		}
	}
	return regexp.Compile("(?i)" + body)
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime atomic.Int64
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.touch()
	return m, nil
}

// NewStaticManager wraps an in-memory config that is never reloaded.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) touch() {
	if m.path == "" {
		return
	}
	if info, err := os.Stat(m.path); err == nil {
		m.modTime.Store(info.ModTime().UnixNano())
	}
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.touch()
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	m.touch()
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().UnixNano() > m.modTime.Load(), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
