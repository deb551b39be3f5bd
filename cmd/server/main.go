// examplan 考试安排服务
// 主程序入口

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paiban/examplan/internal/config"
	"github.com/paiban/examplan/internal/database"
	"github.com/paiban/examplan/internal/handler"
	"github.com/paiban/examplan/internal/middleware"
	"github.com/paiban/examplan/internal/notify"
	"github.com/paiban/examplan/internal/repository"
	"github.com/paiban/examplan/internal/security"
	"github.com/paiban/examplan/internal/tenant"
	"github.com/paiban/examplan/pkg/calendar"
	"github.com/paiban/examplan/pkg/logger"
	"github.com/paiban/examplan/pkg/monitor"
	"github.com/paiban/examplan/pkg/pipeline"
	"github.com/paiban/examplan/pkg/solver"
	"github.com/paiban/examplan/pkg/weights"
)

// 构建信息（通过 ldflags 注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("APP_CONFIG"), "YAML 配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: "stdout",
	})

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("env", cfg.App.Env).
		Msg("examplan 启动")

	if err := run(cfg); err != nil {
		logger.Fatal().Err(err).Msg("服务异常退出")
	}
}

func run(cfg *config.Config) error {
	opts, cleanup, err := buildOptions(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	tenants := tenant.NewTenantManager()
	keys := security.NewAPIKeyManager()
	if err := tenant.Setup(cfg, tenants, keys); err != nil {
		return fmt.Errorf("注册考点失败: %w", err)
	}
	if keys.Count() == 0 {
		logger.Warn().Msg("未配置 API 密钥，接口不做认证")
	}

	limiter := security.NewRateLimiter(cfg.API.RateLimit, cfg.API.RateWindow)
	defer limiter.Stop()

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	h := handler.New(pipeline.FromConfig(cfg), cfg.Monitor.HorizonDays, opts...)
	router := handler.NewRouter(h, handler.RouterConfig{
		Auth: &middleware.AuthConfig{
			APIKeyManager: keys,
			TenantManager: tenants,
			RateLimiter:   limiter,
		},
		MetricsPath: metricsPath,
		Timeout:     cfg.API.Timeout,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.ReadTimeout,
		WriteTimeout: cfg.App.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Int("port", cfg.App.Port).
			Int("tenants", len(tenants.List())).
			Str("metrics", metricsPath).
			Msg("服务器启动")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("服务器启动失败: %w", err)
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("正在关闭服务器...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("服务器关闭失败: %w", err)
	}

	logger.Info().Msg("服务器已关闭")
	return nil
}

// buildOptions 按配置组装权重来源、日历、告警下游与求解器
func buildOptions(cfg *config.Config) ([]pipeline.Option, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	cal, err := calendar.New(cfg.Holidays)
	if err != nil {
		return nil, nil, fmt.Errorf("节假日配置无效: %w", err)
	}
	opts := []pipeline.Option{pipeline.WithCalendar(cal)}

	var source weights.Source
	switch cfg.Weights.Source {
	case "http":
		source = weights.NewHTTPSource(cfg.Weights.URL, cfg.Weights.Timeout)
	case "postgres":
		db, err := database.New(&cfg.Database)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { db.Close() })
		source = repository.NewWeightSource(db)
	default:
		source = weights.NewStaticSource(nil)
	}

	providerOpts := []weights.Option{weights.WithTTL(cfg.Weights.CacheTTL)}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { client.Close() })
		providerOpts = append(providerOpts, weights.WithSharedCache(weights.NewRedisCache(client, cfg.Redis.Key, cfg.Redis.TTL)))
	}
	opts = append(opts, pipeline.WithWeights(weights.NewProvider(source, providerOpts...)))
	logger.Info().
		Str("source", source.Name()).
		Bool("redis", cfg.Redis.Enabled).
		Msg("权重来源已就绪")

	sinks := monitor.MultiSink{monitor.NewLogSink()}
	if cfg.RabbitMQ.Enabled {
		ch, closeMQ, err := notify.Dial(cfg.RabbitMQ)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, closeMQ)
		sinks = append(sinks, notify.NewAMQPSink(ch, cfg.RabbitMQ, cfg.App.Name))
		logger.Info().Str("exchange", cfg.RabbitMQ.Exchange).Msg("预警投递已启用")
	}
	opts = append(opts, pipeline.WithAlertSink(sinks))

	if cfg.Solver.URL != "" {
		opts = append(opts, pipeline.WithSolver(solver.NewClient(cfg.Solver.URL, cfg.Solver.Timeout)))
	}
	return opts, cleanup, nil
}
