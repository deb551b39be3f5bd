// Package notify 把预警投递到 RabbitMQ
package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/paiban/examplan/internal/config"
	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/logger"
	"github.com/paiban/examplan/pkg/model"
)

// Publisher 消息发布接口，*amqp.Channel 满足该接口
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AlertMessage 投递到队列的消息体
type AlertMessage struct {
	Source  string        `json:"source"`
	SentAt  time.Time     `json:"sent_at"`
	Alerts  []model.Alert `json:"alerts"`
	Highest string        `json:"highest_level"`
	Kinds   []string      `json:"alert_kinds"`
}

// AMQPSink 预警的 RabbitMQ 下游
type AMQPSink struct {
	publisher  Publisher
	exchange   string
	routingKey string
	timeout    time.Duration
	source     string
	now        func() time.Time
}

// NewAMQPSink 创建下游
func NewAMQPSink(p Publisher, cfg config.RabbitMQConfig, source string) *AMQPSink {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AMQPSink{
		publisher:  p,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		timeout:    timeout,
		source:     source,
		now:        time.Now,
	}
}

// Publish 实现 monitor.AlertSink
func (s *AMQPSink) Publish(ctx context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	body, err := json.Marshal(s.message(alerts))
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeNotifyFailed, "告警序列化失败")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.publisher.PublishWithContext(
		ctx,
		s.exchange,
		s.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    s.now(),
			Body:         body,
		},
	); err != nil {
		return apperrors.Wrap(err, apperrors.CodeNotifyFailed, "告警投递失败")
	}

	logger.Debug().
		Str("exchange", s.exchange).
		Str("routing_key", s.routingKey).
		Int("alerts", len(alerts)).
		Msg("告警已投递")
	return nil
}

func (s *AMQPSink) message(alerts []model.Alert) AlertMessage {
	msg := AlertMessage{
		Source:  s.source,
		SentAt:  s.now(),
		Alerts:  alerts,
		Highest: string(model.RiskLow),
		Kinds:   make([]string, 0, len(alerts)),
	}
	best := model.RiskLow
	for _, a := range alerts {
		if a.Level.Rank() > best.Rank() {
			best = a.Level
		}
		msg.Kinds = append(msg.Kinds, string(a.Kind))
	}
	msg.Highest = string(best)
	return msg
}

// Setup 声明交换机与队列并绑定
func Setup(ch *amqp.Channel, cfg config.RabbitMQConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return apperrors.Wrap(err, apperrors.CodeNotifyFailed, "无法声明交换机")
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return apperrors.Wrap(err, apperrors.CodeNotifyFailed, "无法声明队列")
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return apperrors.Wrap(err, apperrors.CodeNotifyFailed, "无法绑定队列")
	}
	return nil
}

// Dial 连接 RabbitMQ 并完成声明，返回的 close 函数依次关闭通道和连接
func Dial(cfg config.RabbitMQConfig) (*amqp.Channel, func(), error) {
	conn, err := amqp.Dial(cfg.DSN)
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.CodeNotifyFailed, "无法连接到 rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, apperrors.Wrap(err, apperrors.CodeNotifyFailed, "无法建立通道")
	}
	if err := Setup(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	return ch, func() {
		ch.Close()
		conn.Close()
	}, nil
}
