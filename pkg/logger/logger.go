// Package logger 提供统一的日志框架
//
// 首次调用 Init 或 Get 时完成初始化，之后的 Init 调用不再生效。
package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Level 日志级别
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // json/console/auto
	Output     string `yaml:"output" json:"output"` // stdout/stderr/file
	FilePath   string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
	TimeFormat string `yaml:"time_format,omitempty" json:"time_format,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "auto",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// Init 初始化日志器
func Init(cfg Config) {
	once.Do(func() {
		level := parseLevel(cfg.Level)
		zerolog.SetGlobalLevel(level)

		var output io.Writer
		switch cfg.Output {
		case "stderr":
			output = os.Stderr
		case "file":
			if cfg.FilePath != "" {
				f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
				if err == nil {
					output = f
				} else {
					output = os.Stdout
				}
			} else {
				output = os.Stdout
			}
		default:
			output = os.Stdout
		}

		if useConsole(cfg.Format, output) {
			output = zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: cfg.TimeFormat,
			}
		}

		logger = zerolog.New(output).With().Timestamp().Logger()
	})
}

// useConsole auto 模式下仅在终端输出时使用控制台格式
func useConsole(format string, out io.Writer) bool {
	switch format {
	case "console":
		return true
	case "json":
		return false
	}
	f, ok := out.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// parseLevel 解析日志级别
func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get 获取日志器
func Get() *zerolog.Logger {
	Init(DefaultConfig())
	return &logger
}

type ctxKey string

// 上下文键
const (
	RequestIDKey ctxKey = "request_id"
	RunIDKey     ctxKey = "run_id"
)

// WithContext 从上下文创建日志器
func WithContext(ctx context.Context) *zerolog.Logger {
	l := Get().With().Logger()

	// 添加请求ID
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		l = l.With().Str("request_id", reqID).Logger()
	}
	
	// 添加流水线运行ID
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		l = l.With().Str("run_id", runID).Logger()
	}

	return &l
}

// Debug 记录调试日志
func Debug() *zerolog.Event {
	return Get().Debug()
}

// Info 记录信息日志
func Info() *zerolog.Event {
	return Get().Info()
}

// Warn 记录警告日志
func Warn() *zerolog.Event {
	return Get().Warn()
}

// Error 记录错误日志
func Error() *zerolog.Event {
	return Get().Error()
}

// Fatal 记录致命错误日志
func Fatal() *zerolog.Event {
	return Get().Fatal()
}

// WithError 添加错误信息
func WithError(err error) *zerolog.Event {
	return Get().Error().Err(err)
}

// PipelineLogger 排程流水线专用日志器
type PipelineLogger struct {
	base *zerolog.Logger
}

// NewPipelineLogger 创建流水线日志器，stage 标识所在环节
func NewPipelineLogger(stage string) *PipelineLogger {
	l := Get().With().Str("component", "pipeline").Str("stage", stage).Logger()
	return &PipelineLogger{base: &l}
}

// Logger 返回底层日志器
func (l *PipelineLogger) Logger() *zerolog.Logger {
	return l.base
}

// StageStart 记录环节开始
func (l *PipelineLogger) StageStart(runID string, candidates, examiners int) {
	l.base.Info().
		Str("run_id", runID).
		Int("candidates", candidates).
		Int("examiners", examiners).
		Msg("开始执行")
}

// StageComplete 记录环节完成
func (l *PipelineLogger) StageComplete(runID string, duration time.Duration, score float64) {
	l.base.Info().
		Str("run_id", runID).
		Dur("duration", duration).
		Float64("score", score).
		Msg("执行完成")
}

// ConstraintViolation 记录约束违反
func (l *PipelineLogger) ConstraintViolation(constraint, details string) {
	l.base.Debug().
		Str("constraint", constraint).
		Str("details", details).
		Msg("约束违反")
}

// Recovered 记录被兜底的内部异常
func (l *PipelineLogger) Recovered(scope string, recovered interface{}) {
	l.base.Error().
		Str("scope", scope).
		Interface("panic", recovered).
		Msg("内部异常已降级处理")
}

// Fallback 记录降级
func (l *PipelineLogger) Fallback(what string, err error) {
	l.base.Warn().Err(err).Str("fallback", what).Msg("使用降级结果")
}
