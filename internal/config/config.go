package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// MetricNames is the closed set of wellness metrics the pipeline understands.
var MetricNames = []string{"sleep", "soreness", "stress", "mood"}

type Config struct {
	LogLevel string            `json:"log_level" yaml:"log_level"`
	Ingest   IngestConfig      `json:"ingest" yaml:"ingest"`
	Features FeaturesConfig    `json:"features" yaml:"features"`
	Policy   Policy            `json:"policy" yaml:"policy"`
	Policies map[string]Policy `json:"tenant_policies" yaml:"tenant_policies"`
	Roster   RosterConfig      `json:"roster" yaml:"roster"`
	API      APIConfig         `json:"api" yaml:"api"`
	Storage  StorageConfig     `json:"storage" yaml:"storage"`
	Stores   StoresConfig      `json:"stores" yaml:"stores"`
}

type IngestConfig struct {
	ChannelBuffer int              `json:"channel_buffer" yaml:"channel_buffer"`
	DedupeWindow  time.Duration    `json:"dedupe_window" yaml:"dedupe_window"`
	REST          RESTConfig       `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig      `json:"kafka" yaml:"kafka"`
	FileImport    FileImportConfig `json:"file_import" yaml:"file_import"`
	Parser        ParserConfig     `json:"parser" yaml:"parser"`
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

type FileImportConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Files   []string `json:"files" yaml:"files"`
}

type ParserConfig struct {
	Timezone        string `json:"timezone" yaml:"timezone"`
	DefaultTenantID string `json:"default_tenant_id" yaml:"default_tenant_id"`
}

// FeaturesConfig controls the rolling windows and the composite weights.
type FeaturesConfig struct {
	AcuteDays    int                `json:"acute_days" yaml:"acute_days"`
	ChronicDays  int                `json:"chronic_days" yaml:"chronic_days"`
	BaselineDays int                `json:"baseline_days" yaml:"baseline_days"`
	Weights      map[string]float64 `json:"wellness_weights" yaml:"wellness_weights"`
}

// Policy is a named threshold set. Band edges follow the ACWR literature:
// watch is 1.31..1.50, danger is above 1.5 or below 0.7.
type Policy struct {
	ID                  string        `json:"id" yaml:"id"`
	ACWRDangerHigh      float64       `json:"acwr_danger_high" yaml:"acwr_danger_high"`
	ACWRDangerLow       float64       `json:"acwr_danger_low" yaml:"acwr_danger_low"`
	ACWRWatchLow        float64       `json:"acwr_watch_low" yaml:"acwr_watch_low"`
	ACWRWatchHigh       float64       `json:"acwr_watch_high" yaml:"acwr_watch_high"`
	WellnessDangerBelow float64       `json:"wellness_danger_below" yaml:"wellness_danger_below"`
	WellnessWatchLow    float64       `json:"wellness_watch_low" yaml:"wellness_watch_low"`
	WellnessWatchHigh   float64       `json:"wellness_watch_high" yaml:"wellness_watch_high"`
	DropThreshold       float64       `json:"drop_threshold" yaml:"drop_threshold"`
	DropDays            int           `json:"drop_days" yaml:"drop_days"`
	Cooldown            time.Duration `json:"cooldown" yaml:"cooldown"`
	MinChronicSamples   int           `json:"min_chronic_samples" yaml:"min_chronic_samples"`
}

// RosterConfig limits which athletes are evaluated, per tenant.
type RosterConfig struct {
	Enabled     bool                `json:"enabled" yaml:"enabled"`
	IncludeOnly bool                `json:"include_only" yaml:"include_only"`
	Include     map[string][]string `json:"include" yaml:"include"`
	Exclude     map[string][]string `json:"exclude" yaml:"exclude"`
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

type StoresConfig struct {
	FeatureLimit int `json:"feature_limit" yaml:"feature_limit"`
	AlertLimit   int `json:"alert_limit" yaml:"alert_limit"`
}

func DefaultPolicy() Policy {
	return Policy{
		ID:                  "default",
		ACWRDangerHigh:      1.5,
		ACWRDangerLow:       0.7,
		ACWRWatchLow:        1.31,
		ACWRWatchHigh:       1.50,
		WellnessDangerBelow: 4.0,
		WellnessWatchLow:    5.0,
		WellnessWatchHigh:   6.0,
		DropThreshold:       2.0,
		DropDays:            2,
		Cooldown:            24 * time.Hour,
		MinChronicSamples:   4,
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			DedupeWindow:  time.Hour,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
			FileImport:    FileImportConfig{Enabled: false},
			Parser:        ParserConfig{Timezone: "UTC", DefaultTenantID: "default"},
		},
		Features: FeaturesConfig{
			AcuteDays:    7,
			ChronicDays:  28,
			BaselineDays: 14,
			Weights: map[string]float64{
				"sleep":    0.30,
				"soreness": 0.30,
				"stress":   0.20,
				"mood":     0.20,
			},
		},
		Policy:   DefaultPolicy(),
		Roster:   RosterConfig{Enabled: false},
		API:      APIConfig{Enabled: true, Addr: ":8081"},
		Storage:  StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:loadguard.db?_pragma=busy_timeout(5000)"},
		Stores:   StoresConfig{FeatureLimit: 5000, AlertLimit: 1000},
	}
}

// PolicyFor returns the tenant's override policy when one is configured.
func (c *Config) PolicyFor(tenantID string) Policy {
	if c.Policies != nil {
		if p, ok := c.Policies[tenantID]; ok {
			return p
		}
	}
	return c.Policy
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
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Parser.DefaultTenantID == "" {
		cfg.Ingest.Parser.DefaultTenantID = "default"
	}
	if cfg.Features.AcuteDays <= 0 {
		cfg.Features.AcuteDays = 7
	}
	if cfg.Features.ChronicDays <= 0 {
		cfg.Features.ChronicDays = 28
	}
	if cfg.Features.BaselineDays <= 0 {
		cfg.Features.BaselineDays = 14
	}
	if len(cfg.Features.Weights) == 0 {
		cfg.Features.Weights = DefaultConfig().Features.Weights
	}
	if cfg.Policy.ID == "" {
		cfg.Policy.ID = "default"
	}
	if cfg.Policy.DropDays <= 0 {
		cfg.Policy.DropDays = 2
	}
	if cfg.Stores.FeatureLimit <= 0 {
		cfg.Stores.FeatureLimit = 5000
	}
	if cfg.Stores.AlertLimit <= 0 {
		cfg.Stores.AlertLimit = 1000
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
	if cfg.Ingest.FileImport.Enabled && len(cfg.Ingest.FileImport.Files) == 0 {
		return errors.New("ingest.file_import.files required when ingest.file_import.enabled is true")
	}
	if cfg.Features.AcuteDays >= cfg.Features.ChronicDays {
		return fmt.Errorf("features.acute_days (%d) must be shorter than features.chronic_days (%d)",
			cfg.Features.AcuteDays, cfg.Features.ChronicDays)
	}
	if cfg.Features.BaselineDays != 14 && cfg.Features.BaselineDays != 28 {
		return fmt.Errorf("features.baseline_days must be 14 or 28, got %d", cfg.Features.BaselineDays)
	}
	if err := ValidateWeights(cfg.Features.Weights); err != nil {
		return err
	}
	if err := ValidatePolicy(cfg.Policy); err != nil {
		return err
	}
	for tenant, p := range cfg.Policies {
		if err := ValidatePolicy(p); err != nil {
			return fmt.Errorf("tenant_policies[%s]: %w", tenant, err)
		}
	}
	return nil
}

// ValidateWeights rejects unknown metric names and weight sets that do not
// sum to 1.0. A malformed weight table must never be silently applied.
func ValidateWeights(weights map[string]float64) error {
	if len(weights) == 0 {
		return errors.New("features.wellness_weights must not be empty")
	}
	known := make(map[string]struct{}, len(MetricNames))
	for _, m := range MetricNames {
		known[m] = struct{}{}
	}
	sum := 0.0
	for name, w := range weights {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("features.wellness_weights: unknown metric %q", name)
		}
		if w < 0 {
			return fmt.Errorf("features.wellness_weights: negative weight for %q", name)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("features.wellness_weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

func ValidatePolicy(p Policy) error {
	if p.ID == "" {
		return errors.New("policy.id must not be empty")
	}
	if p.ACWRDangerLow <= 0 || p.ACWRDangerHigh <= p.ACWRDangerLow {
		return errors.New("policy acwr danger band is not ordered")
	}
	if p.ACWRWatchLow <= p.ACWRDangerLow || p.ACWRWatchHigh > p.ACWRDangerHigh {
		return errors.New("policy acwr watch band must sit inside the danger band")
	}
	if p.ACWRWatchLow > p.ACWRWatchHigh {
		return errors.New("policy acwr watch band is not ordered")
	}
	if p.WellnessWatchLow > p.WellnessWatchHigh {
		return errors.New("policy wellness watch band is not ordered")
	}
	if p.WellnessDangerBelow > p.WellnessWatchLow {
		return errors.New("policy wellness danger threshold must be below the watch band")
	}
	if p.DropThreshold < 0 {
		return errors.New("policy drop_threshold must be >= 0")
	}
	if p.DropDays < 1 {
		return errors.New("policy drop_days must be >= 1")
	}
	if p.Cooldown < 0 {
		return errors.New("policy cooldown must be >= 0")
	}
	if p.MinChronicSamples < 0 {
		return errors.New("policy min_chronic_samples must be >= 0")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
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

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	if m.path != "" {
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
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
	return info.ModTime().After(m.modTime), nil
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
