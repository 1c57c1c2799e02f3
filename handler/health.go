package handler

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/mstgnz/donatepay/infra/response"
	"github.com/mstgnz/donatepay/provider"
	"github.com/mstgnz/donatepay/reconcile"
)

// ProviderRegistry reports registry state; *provider.Router satisfies it
type ProviderRegistry interface {
	GetRegisteredProviders() []provider.ProviderType
	Active() (provider.ProviderType, bool)
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db          *sql.DB
	registry    ProviderRegistry
	engine      Reconciler
	environment string
	version     string
	startTime   time.Time
}

// HealthStatus represents overall system health
type HealthStatus struct {
	Status         string               `json:"status"`
	Version        string               `json:"version"`
	Timestamp      time.Time            `json:"timestamp"`
	Uptime         string               `json:"uptime"`
	Environment    string               `json:"environment"`
	Database       *DatabaseHealth      `json:"database"`
	Providers      *RegistryHealth      `json:"providers"`
	Reconciliation *ReconciliationState `json:"reconciliation,omitempty"`
	System         *SystemHealth        `json:"system"`
}

// DatabaseHealth represents database health status
type DatabaseHealth struct {
	Status       string `json:"status"`
	Connected    bool   `json:"connected"`
	ResponseTime int64  `json:"response_time_ms"`
	OpenConns    int    `json:"open_connections"`
	InUseConns   int    `json:"in_use_connections"`
	IdleConns    int    `json:"idle_connections"`
	WaitCount    int64  `json:"wait_count"`
	Error        string `json:"error,omitempty"`
}

// RegistryHealth represents the provider registry
type RegistryHealth struct {
	Registered []provider.ProviderType `json:"registered"`
	Active     provider.ProviderType   `json:"active,omitempty"`
}

// ReconciliationState summarizes the engine
type ReconciliationState struct {
	Running      bool   `json:"running"`
	CacheSize    int    `json:"cache_size"`
	TotalPending int64  `json:"total_pending"`
	Error        string `json:"error,omitempty"`
}

// SystemHealth represents process resource usage
type SystemHealth struct {
	Alloc      string `json:"alloc"`
	Sys        string `json:"sys"`
	GCRuns     uint32 `json:"gc_runs"`
	GoRoutines int    `json:"goroutines"`
}

// NewHealthHandler creates a new health handler. engine may be nil.
func NewHealthHandler(db *sql.DB, registry ProviderRegistry, engine Reconciler, environment, version string) *HealthHandler {
	return &HealthHandler{
		db:          db,
		registry:    registry,
		engine:      engine,
		environment: environment,
		version:     version,
		startTime:   time.Now(),
	}
}

// CheckHealth reports liveness with registry state and a database ping
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := &HealthStatus{
		Version:        h.version,
		Timestamp:      time.Now().UTC(),
		Uptime:         time.Since(h.startTime).Round(time.Second).String(),
		Environment:    h.environment,
		Database:       h.checkDatabaseHealth(ctx),
		Providers:      h.checkRegistry(),
		Reconciliation: h.checkReconciliation(ctx),
		System:         checkSystemHealth(),
	}
	health.Status = determineOverallStatus(health)

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	_ = response.WriteJSON(w, statusCode, response.Response{
		Code:    statusCode,
		Success: health.Status != "unhealthy",
		Message: fmt.Sprintf("Service is %s", health.Status),
		Data:    health,
	})
}

func (h *HealthHandler) checkDatabaseHealth(ctx context.Context) *DatabaseHealth {
	dbHealth := &DatabaseHealth{Status: "unknown"}

	if h.db == nil {
		dbHealth.Status = "not_configured"
		dbHealth.Error = "Database not configured"
		return dbHealth
	}

	start := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		dbHealth.Status = "unhealthy"
		dbHealth.Error = err.Error()
		dbHealth.ResponseTime = time.Since(start).Milliseconds()
		return dbHealth
	}

	dbHealth.Connected = true
	elapsed := time.Since(start)
	dbHealth.ResponseTime = elapsed.Milliseconds()

	stats := h.db.Stats()
	dbHealth.OpenConns = stats.OpenConnections
	dbHealth.InUseConns = stats.InUse
	dbHealth.IdleConns = stats.Idle
	dbHealth.WaitCount = stats.WaitCount

	switch {
	case elapsed > time.Second, dbHealth.WaitCount > 100:
		dbHealth.Status = "degraded"
	default:
		dbHealth.Status = "healthy"
	}
	return dbHealth
}

func (h *HealthHandler) checkRegistry() *RegistryHealth {
	if h.registry == nil {
		return &RegistryHealth{Registered: []provider.ProviderType{}}
	}
	reg := &RegistryHealth{Registered: h.registry.GetRegisteredProviders()}
	if reg.Registered == nil {
		reg.Registered = []provider.ProviderType{}
	}
	if active, ok := h.registry.Active(); ok {
		reg.Active = active
	}
	return reg
}

func (h *HealthHandler) checkReconciliation(ctx context.Context) *ReconciliationState {
	if h.engine == nil {
		return nil
	}
	stats, err := h.engine.Stats(ctx)
	if err != nil {
		return &ReconciliationState{Error: err.Error()}
	}
	return stateFromStats(stats)
}

func stateFromStats(stats reconcile.Stats) *ReconciliationState {
	return &ReconciliationState{
		Running:      stats.Running,
		CacheSize:    stats.CacheSize,
		TotalPending: stats.TotalPending,
	}
}

func checkSystemHealth() *SystemHealth {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &SystemHealth{
		Alloc:      formatBytes(memStats.Alloc),
		Sys:        formatBytes(memStats.Sys),
		GCRuns:     memStats.NumGC,
		GoRoutines: runtime.NumGoroutine(),
	}
}

// determineOverallStatus is unhealthy without a database, degraded without
// an active provider or with a slow database
func determineOverallStatus(health *HealthStatus) string {
	if health.Database == nil || health.Database.Status == "unhealthy" || health.Database.Status == "not_configured" {
		return "unhealthy"
	}
	if health.Providers == nil || health.Providers.Active == "" {
		return "degraded"
	}
	if health.Database.Status == "degraded" {
		return "degraded"
	}
	return "healthy"
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
