package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/model"

	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/types"
)

var _ types.MetricsCollector = (*Collector)(nil)

// Collector exports cache and filesystem metrics to Prometheus and keeps a
// per-operation summary for the debug endpoints.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	cacheRequests     *prometheus.CounterVec
	cacheEvictions    *prometheus.CounterVec
	cacheBytes        *prometheus.GaugeVec
	errorCounter      *prometheus.CounterVec

	operations map[string]*OperationMetrics
	lastReset  time.Time

	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
}

// DefaultConfig returns the configuration used when NewCollector gets nil.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      8080,
		Path:      "/metrics",
		Namespace: "fatvfs",
		Labels:    make(map[string]string),
	}
}

// NewCollector creates a new metrics collector. A disabled collector
// accepts every call and records nothing.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	for name := range config.Labels {
		if !model.LabelName(name).IsValidLegacy() || strings.HasPrefix(name, "__") {
			return nil, errors.Newf(errors.ErrCodeInvalidConfig, "invalid metric label name %q", name).
				WithComponent("metrics")
		}
	}

	c := &Collector{
		config:     config,
		logger:     slog.Default().With("component", "metrics"),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "register metrics", err).
			WithComponent("metrics")
	}
	return c, nil
}

// Registry exposes the private registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics, health and debug endpoints.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.registry != nil {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	return mux
}

// Start serves Handler on the configured port until Stop or ctx is done.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server stopped", "addr", c.server.Addr, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()

	c.logger.Info("serving metrics", "addr", c.server.Addr, "path", c.config.Path)
	return nil
}

// Stop shuts the metrics server down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation implements types.MetricsCollector
func (c *Collector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	m, ok := c.operations[operation]
	if !ok {
		m = &OperationMetrics{}
		c.operations[operation] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.TotalSize += size
	if !success {
		m.Errors++
	}
	m.LastOperation = time.Now()
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	m.AvgSize = float64(m.TotalSize) / float64(m.Count)
	c.mu.Unlock()

	status := "success"
	if !success {
		status = "error"
	}
	c.operationCounter.WithLabelValues(operation, status).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if size > 0 {
		c.operationSize.WithLabelValues(operation).Observe(float64(size))
	}
}

// RecordCacheHit implements types.MetricsCollector
func (c *Collector) RecordCacheHit(device string, size int64) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequests.WithLabelValues("hit", device).Inc()
}

// RecordCacheMiss implements types.MetricsCollector
func (c *Collector) RecordCacheMiss(device string, size int64) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequests.WithLabelValues("miss", device).Inc()
}

// RecordEviction implements types.MetricsCollector
func (c *Collector) RecordEviction(device string, dirty bool) {
	if !c.config.Enabled {
		return
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	c.cacheEvictions.WithLabelValues(device, state).Inc()
}

// RecordError implements types.MetricsCollector. Errors are labelled by
// their category.
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}
	c.errorCounter.WithLabelValues(operation, classifyError(err)).Inc()
}

// UpdateCacheStats publishes a cache snapshot as gauges.
func (c *Collector) UpdateCacheStats(stats types.CacheStats) {
	if !c.config.Enabled {
		return
	}
	c.cacheBytes.WithLabelValues("used").Set(float64(stats.Size))
	c.cacheBytes.WithLabelValues("capacity").Set(float64(stats.Capacity))
}

// GetMetrics implements types.MetricsCollector
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]*OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		cp := *v
		operations[k] = &cp
	}
	return map[string]interface{}{
		"operations": operations,
		"last_reset": c.lastReset,
		"uptime":     time.Since(c.lastReset),
	}
}

// ResetMetrics clears the per-operation summary. Prometheus series are kept.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: c.config.Labels,
		}
	}

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("operations_total", "Total number of filesystem operations")),
		[]string{"operation", "status"},
	)
	o := opts("operation_duration_seconds", "Duration of filesystem operations in seconds")
	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: o.Namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help,
			ConstLabels: o.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
		},
		[]string{"operation"},
	)
	o = opts("operation_size_bytes", "Bytes transferred by filesystem operations")
	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: o.Namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help,
			ConstLabels: o.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(512, 4, 10), // one sector to 128MB
		},
		[]string{"operation"},
	)
	c.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("cache_requests_total", "Block cache lookups by result")),
		[]string{"result", "device"},
	)
	c.cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("cache_evictions_total", "Block cache evictions by buffer state")),
		[]string{"device", "state"},
	)
	c.cacheBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts(opts("cache_bytes", "Block cache memory")),
		[]string{"kind"},
	)
	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("errors_total", "Total number of errors by category")),
		[]string{"operation", "category"},
	)
}

func (c *Collector) registerMetrics() error {
	for _, m := range []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.cacheRequests,
		c.cacheEvictions,
		c.cacheBytes,
		c.errorCounter,
	} {
		if err := c.registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}

func classifyError(err error) string {
	code := errors.CodeOf(err)
	if code == errors.ErrCodeUnknownError {
		return "other"
	}
	return string(errors.GetCategory(code))
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"fatvfs-metrics"}`))
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	snapshot := c.GetMetrics()
	ops := snapshot["operations"].(map[string]*OperationMetrics)

	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	type row struct {
		Name string `json:"name"`
		*OperationMetrics
	}
	rows := make([]row, 0, len(names))
	for _, name := range names {
		rows = append(rows, row{Name: name, OperationMetrics: ops[name]})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"uptime":     snapshot["uptime"].(time.Duration).String(),
		"operations": rows,
	})
}
