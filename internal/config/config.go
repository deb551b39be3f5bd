// Package config 提供配置管理
//
// 加载顺序：环境变量（含默认值）→ YAML 文件覆盖 → 校验。
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/paiban/examplan/pkg/calendar"
)

// Config 应用配置
type Config struct {
	App      AppConfig      `yaml:"app" envPrefix:"APP_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DB_"`
	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq" envPrefix:"RABBITMQ_"`
	API      APIConfig      `yaml:"api" envPrefix:"API_"`
	Weights  WeightsConfig  `yaml:"weights" envPrefix:"WEIGHTS_"`
	Pipeline PipelineConfig `yaml:"pipeline" envPrefix:"PIPELINE_"`
	Monitor  MonitorConfig  `yaml:"monitor" envPrefix:"MONITOR_"`
	Solver   SolverConfig   `yaml:"solver" envPrefix:"SOLVER_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`

	// 节假日与考点只能通过配置文件提供
	Holidays []calendar.HolidayRule `yaml:"holidays" env:"-"`
	Tenants  []TenantConfig         `yaml:"tenants" env:"-" validate:"dive"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name            string        `yaml:"name" env:"NAME" envDefault:"examplan"`
	Env             string        `yaml:"env" env:"ENV" envDefault:"development" validate:"oneof=development test production"`
	Port            int           `yaml:"port" env:"PORT" envDefault:"7012" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL" envDefault:"info"`
	Format string `yaml:"format" env:"FORMAT" envDefault:"auto" validate:"oneof=auto console json"`
}

// DatabaseConfig 数据库配置（权重表来源）
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"HOST" envDefault:"localhost"`
	Port            int           `yaml:"port" env:"PORT" envDefault:"5432"`
	Name            string        `yaml:"name" env:"NAME" envDefault:"examplan"`
	User            string        `yaml:"user" env:"USER" envDefault:"examplan"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE" envDefault:"disable"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS" envDefault:"10" validate:"gte=1"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS" envDefault:"2" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN 返回数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig Redis配置（权重共享缓存）
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED" envDefault:"false"`
	Host     string        `yaml:"host" env:"HOST" envDefault:"localhost"`
	Port     int           `yaml:"port" env:"PORT" envDefault:"6379"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB" envDefault:"0"`
	Key      string        `yaml:"key" env:"KEY" envDefault:"examplan:weights"`
	TTL      time.Duration `yaml:"ttl" env:"TTL" envDefault:"1h"`
}

// Addr 返回Redis地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RabbitMQConfig 预警投递配置
type RabbitMQConfig struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED" envDefault:"false"`
	DSN            string        `yaml:"dsn" env:"DSN" validate:"required_if=Enabled true"`
	Exchange       string        `yaml:"exchange" env:"EXCHANGE" envDefault:"examplan.alerts"`
	RoutingKey     string        `yaml:"routing_key" env:"ROUTING_KEY" envDefault:"alert"`
	Queue          string        `yaml:"queue" env:"QUEUE" envDefault:"examplan_alerts"`
	PublishTimeout time.Duration `yaml:"publish_timeout" env:"PUBLISH_TIMEOUT" envDefault:"10s"`
}

// APIConfig API配置
type APIConfig struct {
	Keys       []string      `yaml:"keys" env:"KEYS" envSeparator:","`
	RateLimit  int           `yaml:"rate_limit" env:"RATE_LIMIT" envDefault:"100" validate:"gt=0"`
	RateWindow time.Duration `yaml:"rate_window" env:"RATE_WINDOW" envDefault:"1m"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT" envDefault:"30s"`
}

// TenantConfig 考点（调用方）配置，零值字段沿用全局参数
type TenantConfig struct {
	Code              string   `yaml:"code" validate:"required"`
	Name              string   `yaml:"name"`
	Keys              []string `yaml:"keys" validate:"dive,required"`
	Scopes            []string `yaml:"scopes"`
	RateLimit         int      `yaml:"rate_limit" validate:"gte=0"`
	MaxCandidates     int      `yaml:"max_candidates" validate:"gte=0"`
	ConfidenceFloor   float64  `yaml:"confidence_floor" validate:"gte=0,lte=1"`
	Alternatives      int      `yaml:"alternatives" validate:"gte=0"`
	MaxRecursionDepth int      `yaml:"max_recursion_depth" validate:"gte=0,lte=10"`
	ExcludeHolidays   bool     `yaml:"exclude_holidays"`
}

// WeightsConfig 约束权重来源配置
type WeightsConfig struct {
	Source   string        `yaml:"source" env:"SOURCE" envDefault:"static" validate:"oneof=static http postgres"`
	URL      string        `yaml:"url" env:"URL" validate:"omitempty,url"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL" envDefault:"5m" validate:"gt=0"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT" envDefault:"5s"`
}

// PipelineConfig 流水线参数
type PipelineConfig struct {
	MaxWindows             int           `yaml:"max_windows" env:"MAX_WINDOWS" envDefault:"30" validate:"gt=0"`
	ConfidenceFloor        float64       `yaml:"confidence_floor" env:"CONFIDENCE_FLOOR" envDefault:"0.6" validate:"gte=0,lte=1"`
	Alternatives           int           `yaml:"alternatives" env:"ALTERNATIVES" envDefault:"3" validate:"gte=0"`
	ScoreCacheTTL          time.Duration `yaml:"score_cache_ttl" env:"SCORE_CACHE_TTL" envDefault:"10m"`
	ScoreWorkers           int           `yaml:"score_workers" env:"SCORE_WORKERS" envDefault:"8" validate:"gt=0"`
	BatchSize              int           `yaml:"batch_size" env:"BATCH_SIZE" envDefault:"10" validate:"gt=0"`
	AllocWorkers           int           `yaml:"alloc_workers" env:"ALLOC_WORKERS" envDefault:"4" validate:"gt=0"`
	MaxRecursionDepth      int           `yaml:"max_recursion_depth" env:"MAX_RECURSION_DEPTH" envDefault:"3" validate:"gte=0,lte=10"`
	WidenDays              int           `yaml:"widen_days" env:"WIDEN_DAYS" envDefault:"7" validate:"gt=0"`
	InterchangeDepartments []string      `yaml:"interchange_departments" env:"INTERCHANGE_DEPARTMENTS" envSeparator:"," envDefault:"一室,二室" validate:"omitempty,len=2"`
}

// MonitorConfig 预警监控配置
type MonitorConfig struct {
	Interval    time.Duration `yaml:"interval" env:"INTERVAL" envDefault:"1m" validate:"gt=0"`
	HorizonDays int           `yaml:"horizon_days" env:"HORIZON_DAYS" envDefault:"7" validate:"gt=0"`
}

// SolverConfig 外部求解器配置
type SolverConfig struct {
	URL     string        `yaml:"url" env:"URL" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT" envDefault:"60s"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED" envDefault:"true"`
	Path    string `yaml:"path" env:"PATH" envDefault:"/metrics"`
}

// Load 从环境变量加载配置，path 非空时用 YAML 文件覆盖
func Load(path string) (*Config, error) {
	return load(env.Options{}, path)
}

// LoadFromMap 从给定的变量表加载配置（测试使用）
func LoadFromMap(environ map[string]string, path string) (*Config, error) {
	return load(env.Options{Environment: environ}, path)
}

func load(opts env.Options, path string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		var aggErr env.AggregateError
		if stderrors.As(err, &aggErr) && len(aggErr.Errors) > 0 {
			// 只返回第一个错误使得日志更清晰
			return nil, aggErr.Errors[0]
		}
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	if c.Weights.Source == "http" && c.Weights.URL == "" {
		return fmt.Errorf("配置校验失败: weights.source=http 时必须提供 weights.url")
	}
	if _, err := calendar.New(c.Holidays); err != nil {
		return fmt.Errorf("节假日配置无效: %w", err)
	}
	return nil
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
