package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"loadguard/internal/alerts"
	"loadguard/internal/config"
	"loadguard/internal/features"
	"loadguard/internal/model"
	"loadguard/internal/storage"
	"loadguard/internal/telemetry"
)

type EngineControl interface {
	Reset()
	UpdateConfig(cfg *config.Config)
	Rebuild(ctx context.Context, tenantID string, athleteIDs ...string) error
	Started() time.Time
}

type Server struct {
	cfg      *config.Manager
	features *features.Store
	alerts   *alerts.Store
	store    storage.Store
	engine   EngineControl
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status   string         `json:"status"`
	Time     string         `json:"time"`
	Uptime   string         `json:"uptime,omitempty"`
	Version  string         `json:"version"`
	Policy   config.Policy  `json:"policy"`
	Features featuresStatus `json:"features"`
	Ingest   ingestStatus   `json:"ingest"`
	Storage  storageStatus  `json:"storage"`
}

type featuresStatus struct {
	AcuteDays    int `json:"acute_days"`
	ChronicDays  int `json:"chronic_days"`
	BaselineDays int `json:"baseline_days"`
}

type ingestStatus struct {
	REST       bool `json:"rest"`
	Kafka      bool `json:"kafka"`
	FileImport bool `json:"file_import"`
}

type storageStatus struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"`
}

func Start(ctx context.Context, cfg *config.Manager, featureStore *features.Store, alertStore *alerts.Store, store storage.Store, engine EngineControl, logger *slog.Logger, version string) *http.Server {
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
	server := &Server{
		cfg:      cfg,
		features: featureStore,
		alerts:   alertStore,
		store:    store,
		engine:   engine,
		logger:   logger,
		version:  version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/features", server.handleFeatures)
	mux.HandleFunc("/features/", server.handleFeatureSeries)
	mux.HandleFunc("/report/", server.handleReport)
	mux.HandleFunc("/heatmap", server.handleHeatmap)
	mux.HandleFunc("/alerts", server.handleAlerts)
	mux.HandleFunc("/alerts/ack", server.handleAlertStatus(model.AlertAcknowledged))
	mux.HandleFunc("/alerts/close", server.handleAlertStatus(model.AlertClosed))
	mux.HandleFunc("/config/policy", server.handlePolicy)
	mux.HandleFunc("/admin/clear", server.handleClear)
	mux.HandleFunc("/admin/restart", server.handleRestart)
	mux.HandleFunc("/admin/rebuild", server.handleRebuild)
	mux.Handle("/metrics", telemetry.Handler())

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
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
	resp := statusResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: s.version,
		Policy:  cfg.Policy,
		Features: featuresStatus{
			AcuteDays:    cfg.Features.AcuteDays,
			ChronicDays:  cfg.Features.ChronicDays,
			BaselineDays: cfg.Features.BaselineDays,
		},
		Ingest: ingestStatus{
			REST:       cfg.Ingest.REST.Enabled,
			Kafka:      cfg.Ingest.Kafka.Enabled,
			FileImport: cfg.Ingest.FileImport.Enabled,
		},
		Storage: storageStatus{Enabled: cfg.Storage.Enabled, Driver: cfg.Storage.Driver},
	}
	if s.engine != nil {
		resp.Uptime = time.Since(s.engine.Started()).Round(time.Second).String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) tenant(r *http.Request) string {
	tenant := strings.TrimSpace(r.URL.Query().Get("tenant"))
	if tenant == "" {
		tenant = s.cfg.Get().Ingest.Parser.DefaultTenantID
	}
	return tenant
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tenant := s.tenant(r)
	rows := s.features.Tenant(tenant)
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenant,
		"features":  rows,
		"count":     len(rows),
	})
}

func (s *Server) handleFeatureSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	athlete := strings.TrimPrefix(r.URL.Path, "/features/")
	if athlete == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	tenant := s.tenant(r)
	from, to, err := dateRange(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	series, err := s.loadSeries(r.Context(), tenant, athlete, from, to)
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":  tenant,
		"athlete_id": athlete,
		"series":     series,
		"count":      len(series),
	})
}

func (s *Server) loadSeries(ctx context.Context, tenant, athlete string, from, to time.Time) ([]model.FeatureRow, error) {
	if s.store != nil {
		return s.store.ListFeatureRows(ctx, tenant, athlete, from, to)
	}
	if row, _, ok := s.features.Get(tenant, athlete); ok {
		return []model.FeatureRow{row}, nil
	}
	return []model.FeatureRow{}, nil
}

// handleReport is the athlete 360 view: latest features, series, alerts.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	athlete := strings.TrimPrefix(r.URL.Path, "/report/")
	if athlete == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	tenant := s.tenant(r)
	from, to, err := dateRange(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	series, err := s.loadSeries(r.Context(), tenant, athlete, from, to)
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	resp := map[string]any{
		"tenant_id":  tenant,
		"athlete_id": athlete,
		"series":     series,
		"alerts":     s.alerts.ForAthlete(tenant, athlete),
	}
	if s.store != nil {
		if parts, _, err := s.store.LoadTimeline(r.Context(), tenant, athlete); err == nil {
			resp["daily_loads"] = model.AggregateDailyLoads(parts)
		}
	}
	if row, updated, ok := s.features.Get(tenant, athlete); ok {
		resp["latest"] = row
		resp["updated_at"] = updated.Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}

type heatmapCell struct {
	AthleteID string    `json:"athlete_id"`
	EventDate time.Time `json:"event_date"`
	Readiness *float64  `json:"readiness_score"`
	Composite *float64  `json:"wellness_composite"`
	ACWR      *float64  `json:"acwr_7_28"`
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tenant := s.tenant(r)
	rows := s.features.Tenant(tenant)
	cells := make([]heatmapCell, 0, len(rows))
	for athlete, row := range rows {
		cells = append(cells, heatmapCell{
			AthleteID: athlete,
			EventDate: row.EventDate,
			Readiness: row.ReadinessScore,
			Composite: row.WellnessComposite,
			ACWR:      row.ACWR728,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenant,
		"cells":     cells,
		"count":     len(cells),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tenant := s.tenant(r)
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if status := r.URL.Query().Get("status"); status != "" {
		var list []model.Alert
		if s.store != nil {
			var err error
			list, err = s.store.ListAlerts(r.Context(), tenant, model.AlertStatus(status), limit)
			if err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		} else {
			list = s.alerts.ListByStatus(tenant, model.AlertStatus(status), limit)
		}
		writeJSON(w, http.StatusOK, map[string]any{"alerts": list, "count": len(list)})
		return
	}
	var list []model.Alert
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(tenant, ts)
	} else {
		list = s.alerts.List(tenant, limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": list, "count": len(list)})
}

// handleAlertStatus is the staff acknowledgment workflow: the alert status
// field is the only derived data an external actor may mutate.
func (s *Server) handleAlertStatus(target model.AlertStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &req); err != nil || strings.TrimSpace(req.ID) == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		now := time.Now().UTC()
		if s.store != nil {
			err := s.store.UpdateAlertStatus(r.Context(), req.ID, target, now)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				w.WriteHeader(http.StatusNotFound)
				return
			case errors.Is(err, storage.ErrInvalidTransition):
				w.WriteHeader(http.StatusConflict)
				return
			case err != nil:
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		s.alerts.SetStatus(req.ID, target, now)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": req.ID, "alert_status": target})
	}
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg := s.cfg.Get()
		writeJSON(w, http.StatusOK, map[string]any{
			"policy":          cfg.Policy,
			"tenant_policies": cfg.Policies,
			"weights":         cfg.Features.Weights,
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var p config.Policy
		if err := json.Unmarshal(body, &p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := config.ValidatePolicy(p); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		current := s.cfg.Get()
		next := *current
		next.Policy = p
		if err := s.cfg.Update(&next); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if s.engine != nil {
			s.engine.UpdateConfig(&next)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.features.Clear()
		s.alerts.Clear()
	case "alerts":
		s.alerts.Clear()
	case "features":
		s.features.Clear()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine != nil {
		s.engine.Reset()
	}
	s.features.Clear()
	s.alerts.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		TenantID string   `json:"tenant_id"`
		Athletes []string `json:"athletes"`
	}
	_ = json.Unmarshal(body, &req)
	if strings.TrimSpace(req.TenantID) == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.engine.Rebuild(r.Context(), req.TenantID, req.Athletes...); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func dateRange(r *http.Request) (time.Time, time.Time, error) {
	from := time.Now().UTC().AddDate(0, 0, -28)
	to := time.Now().UTC()
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
