package events

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "Manof-Chain/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 交换机的连接参数。
type RabbitMQConfig struct {
	URL      string
	Exchange string
	Durable  bool
	// Queue 为消费端绑定的队列名，为空时使用服务端生成的临时队列。
	Queue string
}

// RabbitMQBus 通过 topic 交换机投递事件，路由键为操作名。
type RabbitMQBus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	durable  bool
}

// NewRabbitMQBus 创建 RabbitMQ 事件总线。
func NewRabbitMQBus(cfg RabbitMQConfig) (*RabbitMQBus, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "manof.records"
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
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 交换机失败: %w", err)
	}
	return &RabbitMQBus{conn: conn, ch: ch, exchange: exchange, queue: cfg.Queue, durable: cfg.Durable}, nil
}

// Publish 将事件发布到交换机。
func (b *RabbitMQBus) Publish(ctx context.Context, event Event) error {
	if b == nil || b.ch == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 事件总线未初始化")
	}
	data, err := Encode(event)
	if err != nil {
		return err
	}
	deliveryMode := amqp.Transient
	if b.durable {
		deliveryMode = amqp.Persistent
	}
	err = b.ch.PublishWithContext(ctx, b.exchange, string(event.Operation), false, false, amqp.Publishing{
		ContentType:  "application/cbor",
		MessageId:    event.ID,
		DeliveryMode: deliveryMode,
		Body:         data,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 发布事件失败", xerrors.WithMetadata("op_id", event.ID))
	}
	return nil
}

// Consume 声明队列并绑定全部路由键，使用手动确认模式消费事件。
func (b *RabbitMQBus) Consume(ctx context.Context, handler Handler) error {
	if b == nil || b.ch == nil {
		return errors.New("RabbitMQ 事件总线未初始化")
	}
	exclusive := b.queue == ""
	q, err := b.ch.QueueDeclare(b.queue, b.durable && !exclusive, exclusive, exclusive, false, nil)
	if err != nil {
		return fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	if err := b.ch.QueueBind(q.Name, "#", b.exchange, false, nil); err != nil {
		return fmt.Errorf("绑定 RabbitMQ 队列失败: %w", err)
	}
	msgs, err := b.ch.Consume(q.Name, "", false, exclusive, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("RabbitMQ 消费通道已关闭")
			}
			event, err := Decode(msg.Body)
			if err != nil {
				_ = msg.Nack(false, false)
				continue
			}
			if err := handler(ctx, event); err != nil {
				_ = msg.Nack(false, true)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (b *RabbitMQBus) Close() error {
	if b == nil {
		return nil
	}
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
