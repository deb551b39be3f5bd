package monitor

import (
	"context"

	"github.com/paiban/examplan/pkg/logger"
	"github.com/paiban/examplan/pkg/model"
)

// AlertSink 新告警的下游
type AlertSink interface {
	Publish(ctx context.Context, alerts []model.Alert) error
}

// LogSink 把告警写入日志
type LogSink struct {
	logger *logger.PipelineLogger
}

// NewLogSink 创建日志下游
func NewLogSink() *LogSink {
	return &LogSink{logger: logger.NewPipelineLogger("alert")}
}

// Publish 实现 AlertSink
func (s *LogSink) Publish(_ context.Context, alerts []model.Alert) error {
	for _, a := range alerts {
		s.logger.Logger().Warn().
			Str("alert_id", a.ID).
			Str("kind", string(a.Kind)).
			Str("level", string(a.Level)).
			Float64("value", a.Value).
			Float64("threshold", a.Threshold).
			Msg(a.Message)
	}
	return nil
}

// MultiSink 依次投递到多个下游，返回第一个错误
type MultiSink []AlertSink

// Publish 实现 AlertSink
func (m MultiSink) Publish(ctx context.Context, alerts []model.Alert) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, alerts); err != nil && first == nil {
			first = err
		}
	}
	return first
}
