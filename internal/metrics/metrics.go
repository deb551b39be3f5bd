// Package metrics 提供 Prometheus 文本格式的流水线监控指标
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// MetricsRegistry 指标注册表
type MetricsRegistry struct {
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	mu         sync.RWMutex
}

// Counter 计数器
type Counter struct {
	Name   string
	Help   string
	Labels []string
	values map[string]float64
	mu     sync.RWMutex
}

// Gauge 仪表盘
type Gauge struct {
	Name   string
	Help   string
	Labels []string
	values map[string]float64
	mu     sync.RWMutex
}

// Histogram 直方图
type Histogram struct {
	Name    string
	Help    string
	Labels  []string
	Buckets []float64
	counts  map[string][]int
	sums    map[string]float64
	mu      sync.RWMutex
}

var (
	registry *MetricsRegistry
	once     sync.Once
)

// GetRegistry 获取全局注册表
func GetRegistry() *MetricsRegistry {
	once.Do(func() {
		registry = &MetricsRegistry{
			counters:   make(map[string]*Counter),
			gauges:     make(map[string]*Gauge),
			histograms: make(map[string]*Histogram),
		}
		initDefaultMetrics()
	})
	return registry
}

// 指标名称
const (
	MetricHTTPRequests        = "examplan_http_requests_total"
	MetricHTTPDuration        = "examplan_http_request_duration_seconds"
	MetricStageRuns           = "examplan_stage_runs_total"
	MetricStageDuration       = "examplan_stage_duration_seconds"
	MetricWindowsEvaluated    = "examplan_windows_evaluated_total"
	MetricScoreCache          = "examplan_score_cache_total"
	MetricWeightRefresh       = "examplan_weight_refresh_total"
	MetricAllocated           = "examplan_allocated_candidates"
	MetricUnallocated         = "examplan_unallocated_candidates"
	MetricResolutions         = "examplan_conflict_resolutions_total"
	MetricActiveAlerts        = "examplan_active_alerts"
	MetricSystemState         = "examplan_system_state"
	MetricFeasibilityScore    = "examplan_feasibility_score"
	MetricConstraintEvaluated = "examplan_constraint_evaluations_total"
)

// initDefaultMetrics 初始化默认指标
func initDefaultMetrics() {
	registry.NewCounter(MetricHTTPRequests, "HTTP请求总数", []string{"method", "path", "status"})
	registry.NewHistogram(MetricHTTPDuration, "HTTP请求延迟",
		[]string{"method", "path"},
		[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0})

	// 流水线各环节
	registry.NewCounter(MetricStageRuns, "流水线环节执行次数", []string{"stage", "status"})
	registry.NewHistogram(MetricStageDuration, "流水线环节耗时",
		[]string{"stage"},
		[]float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0})

	registry.NewCounter(MetricWindowsEvaluated, "已评分的候选窗口数", []string{"strategy"})
	registry.NewCounter(MetricScoreCache, "评分缓存访问", []string{"result"})
	registry.NewCounter(MetricWeightRefresh, "约束权重刷新", []string{"source", "result"})
	registry.NewCounter(MetricConstraintEvaluated, "约束评估次数", []string{"constraint", "result"})

	registry.NewGauge(MetricAllocated, "最近一次分配成功的考生数", []string{})
	registry.NewGauge(MetricUnallocated, "最近一次未能分配的考生数", []string{})
	registry.NewCounter(MetricResolutions, "冲突解决次数", []string{"level", "result"})

	registry.NewGauge(MetricActiveAlerts, "未解除的告警数", []string{"kind"})
	registry.NewGauge(MetricSystemState, "系统状态指标", []string{"metric"})
	registry.NewGauge(MetricFeasibilityScore, "最近一次可行性预检得分", []string{})
}

// NewCounter 创建计数器
func (r *MetricsRegistry) NewCounter(name, help string, labels []string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	counter := &Counter{
		Name:   name,
		Help:   help,
		Labels: labels,
		values: make(map[string]float64),
	}
	r.counters[name] = counter
	return counter
}

// NewGauge 创建仪表盘
func (r *MetricsRegistry) NewGauge(name, help string, labels []string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	gauge := &Gauge{
		Name:   name,
		Help:   help,
		Labels: labels,
		values: make(map[string]float64),
	}
	r.gauges[name] = gauge
	return gauge
}

// NewHistogram 创建直方图
func (r *MetricsRegistry) NewHistogram(name, help string, labels []string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	histogram := &Histogram{
		Name:    name,
		Help:    help,
		Labels:  labels,
		Buckets: buckets,
		counts:  make(map[string][]int),
		sums:    make(map[string]float64),
	}
	r.histograms[name] = histogram
	return histogram
}

// GetCounter 获取计数器
func (r *MetricsRegistry) GetCounter(name string) *Counter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[name]
}

// GetGauge 获取仪表盘
func (r *MetricsRegistry) GetGauge(name string) *Gauge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gauges[name]
}

// GetHistogram 获取直方图
func (r *MetricsRegistry) GetHistogram(name string) *Histogram {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.histograms[name]
}

// Counter methods

// Inc 增加计数
func (c *Counter) Inc(labelValues ...string) {
	c.Add(1, labelValues...)
}

// Add 增加指定值
func (c *Counter) Add(value float64, labelValues ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := labelKey(labelValues)
	c.values[key] += value
}

// Gauge methods

// Set 设置值
func (g *Gauge) Set(value float64, labelValues ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := labelKey(labelValues)
	g.values[key] = value
}

// Inc 增加
func (g *Gauge) Inc(labelValues ...string) {
	g.Add(1, labelValues...)
}

// Dec 减少
func (g *Gauge) Dec(labelValues ...string) {
	g.Add(-1, labelValues...)
}

// Add 增加指定值
func (g *Gauge) Add(value float64, labelValues ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := labelKey(labelValues)
	g.values[key] += value
}

// Histogram methods

// Observe 记录观测值
func (h *Histogram) Observe(value float64, labelValues ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := labelKey(labelValues)

	if _, exists := h.counts[key]; !exists {
		h.counts[key] = make([]int, len(h.Buckets)+1)
	}

	// 每个观测值只落入一个bucket，输出时再累加
	slot := len(h.Buckets) // +Inf bucket
	for i, bucket := range h.Buckets {
		if value <= bucket {
			slot = i
			break
		}
	}
	h.counts[key][slot]++

	h.sums[key] += value
}

// labelKey 生成标签键
func labelKey(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	return strings.Join(labels, ",")
}

// Handler 返回Prometheus格式的指标HTTP处理器
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	
		registry := GetRegistry()
		registry.mu.RLock()
		defer registry.mu.RUnlock()

		// 输出计数器
		for _, counter := range registry.counters {
			fmt.Fprintf(w, "# HELP %s %s\n", counter.Name, counter.Help)
			fmt.Fprintf(w, "# TYPE %s counter\n", counter.Name)
		
			counter.mu.RLock()
			for key, value := range counter.values {
				if key == "" {
					fmt.Fprintf(w, "%s %f\n", counter.Name, value)
				} else {
					fmt.Fprintf(w, "%s{%s} %f\n", counter.Name, formatLabels(counter.Labels, key), value)
				}
			}
			counter.mu.RUnlock()
		}

		// 输出仪表盘
		for _, gauge := range registry.gauges {
			fmt.Fprintf(w, "# HELP %s %s\n", gauge.Name, gauge.Help)
			fmt.Fprintf(w, "# TYPE %s gauge\n", gauge.Name)
		
			gauge.mu.RLock()
			for key, value := range gauge.values {
				if key == "" {
					fmt.Fprintf(w, "%s %f\n", gauge.Name, value)
				} else {
					fmt.Fprintf(w, "%s{%s} %f\n", gauge.Name, formatLabels(gauge.Labels, key), value)
				}
			}
			gauge.mu.RUnlock()
		}

		// 输出直方图
		for _, histogram := range registry.histograms {
			fmt.Fprintf(w, "# HELP %s %s\n", histogram.Name, histogram.Help)
			fmt.Fprintf(w, "# TYPE %s histogram\n", histogram.Name)
		
			histogram.mu.RLock()
			for key, counts := range histogram.counts {
				cumulative := 0
				for i, bucket := range histogram.Buckets {
					cumulative += counts[i]
					if key == "" {
						fmt.Fprintf(w, "%s_bucket{le=\"%f\"} %d\n", histogram.Name, bucket, cumulative)
					} else {
						fmt.Fprintf(w, "%s_bucket{%s,le=\"%f\"} %d\n", histogram.Name, formatLabels(histogram.Labels, key), bucket, cumulative)
					}
				}
				cumulative += counts[len(histogram.Buckets)]
				if key == "" {
					fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", histogram.Name, cumulative)
					fmt.Fprintf(w, "%s_sum %f\n", histogram.Name, histogram.sums[key])
					fmt.Fprintf(w, "%s_count %d\n", histogram.Name, cumulative)
				} else {
					fmt.Fprintf(w, "%s_bucket{%s,le=\"+Inf\"} %d\n", histogram.Name, formatLabels(histogram.Labels, key), cumulative)
					fmt.Fprintf(w, "%s_sum{%s} %f\n", histogram.Name, formatLabels(histogram.Labels, key), histogram.sums[key])
					fmt.Fprintf(w, "%s_count{%s} %d\n", histogram.Name, formatLabels(histogram.Labels, key), cumulative)
				}
			}
			histogram.mu.RUnlock()
		}
	})
}

// formatLabels 格式化标签
func formatLabels(names []string, values string) string {
	vals := splitLabelKey(values)
	result := ""
	for i, name := range names {
		if i > 0 {
			result += ","
		}
		val := ""
		if i < len(vals) {
			val = vals[i]
		}
		result += fmt.Sprintf("%s=\"%s\"", name, val)
	}
	return result
}

// splitLabelKey 分割标签键
func splitLabelKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, ",")
}

// RecordRequestMetrics 记录请求指标
func RecordRequestMetrics(method, path string, status int, duration time.Duration) {
	registry := GetRegistry()

	if counter := registry.GetCounter(MetricHTTPRequests); counter != nil {
		counter.Inc(method, path, fmt.Sprintf("%d", status))
	}
	if histogram := registry.GetHistogram(MetricHTTPDuration); histogram != nil {
		histogram.Observe(duration.Seconds(), method, path)
	}
}

// RecordStage 记录流水线环节执行
func RecordStage(stage string, success bool, duration time.Duration) {
	registry := GetRegistry()

	status := "success"
	if !success {
		status = "failure"
	}
	if counter := registry.GetCounter(MetricStageRuns); counter != nil {
		counter.Inc(stage, status)
	}
	if histogram := registry.GetHistogram(MetricStageDuration); histogram != nil {
		histogram.Observe(duration.Seconds(), stage)
	}
}

// IncCounter 按名称累加计数器，指标不存在时忽略
func IncCounter(name string, labelValues ...string) {
	if counter := GetRegistry().GetCounter(name); counter != nil {
		counter.Inc(labelValues...)
	}
}

// SetGauge 按名称设置仪表盘，指标不存在时忽略
func SetGauge(name string, value float64, labelValues ...string) {
	if gauge := GetRegistry().GetGauge(name); gauge != nil {
		gauge.Set(value, labelValues...)
	}
}

// Value 读取计数器或仪表盘的当前值
func (r *MetricsRegistry) Value(name string, labelValues ...string) (float64, bool) {
	key := labelKey(labelValues)
	if c := r.GetCounter(name); c != nil {
		c.mu.RLock()
		defer c.mu.RUnlock()
		v, ok := c.values[key]
		return v, ok
	}
	if g := r.GetGauge(name); g != nil {
		g.mu.RLock()
		defer g.mu.RUnlock()
		v, ok := g.values[key]
		return v, ok
	}
	return 0, false
}
