package notify

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultExchange   = "auditfi.wallet"
	defaultRoutingKey = "wallet.transition"
)

// RabbitMQConfig 描述 RabbitMQ 发布端的连接参数。
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	Durable    bool
}

// amqpChannel 是发布事件需要的 channel 子集。
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher 把连接事件以 JSON 形式发布到 topic exchange。
type RabbitMQPublisher struct {
	conn       *amqp.Connection
	ch         amqpChannel
	exchange   string
	routingKey string
}

// NewRabbitMQPublisher 连接 RabbitMQ 并声明 exchange。
func NewRabbitMQPublisher(cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = defaultExchange
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, cfg.Durable, !cfg.Durable, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ exchange 失败: %w", err)
	}
	p := newRabbitMQPublisher(ch, exchange, cfg.RoutingKey)
	p.conn = conn
	return p, nil
}

func newRabbitMQPublisher(ch amqpChannel, exchange, routingKey string) *RabbitMQPublisher {
	if exchange == "" {
		exchange = defaultExchange
	}
	if routingKey == "" {
		routingKey = defaultRoutingKey
	}
	return &RabbitMQPublisher{ch: ch, exchange: exchange, routingKey: routingKey}
}

// Publish implements Publisher.
func (p *RabbitMQPublisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.ch == nil {
		return errors.New("RabbitMQ 发布端未初始化")
	}
	body, err := encode(ev)
	if err != nil {
		return fmt.Errorf("编码事件失败: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    ev.ID,
		Type:         string(ev.Type),
		Timestamp:    ev.Timestamp,
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}
	return nil
}

// Close 关闭 RabbitMQ 连接。
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

var _ Publisher = (*RabbitMQPublisher)(nil)
