package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "Manof-Chain/internal/errors"
)

// RedisConfig 描述 Redis 事件列表的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	Key       string
	BlockWait time.Duration
	// RetryDelay 是处理失败后再次读取队列前的等待时间。
	RetryDelay time.Duration
}

// ListClient 是 RedisBus 依赖的 Redis list 命令子集，*redis.Client 满足该接口。
type ListClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Close() error
}

// RedisBus 使用 Redis list 投递与消费事件。生产者 LPUSH，消费者 BRPOP。
type RedisBus struct {
	client     ListClient
	key        string
	wait       time.Duration
	retryDelay time.Duration
}

// NewRedisBus 创建 Redis 事件总线。
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisBusWithClient(client, cfg), nil
}

// NewRedisBusWithClient 使用已有客户端创建 Redis 事件总线，cfg 中的连接参数被忽略。
func NewRedisBusWithClient(client ListClient, cfg RedisConfig) *RedisBus {
	b := &RedisBus{client: client, key: cfg.Key, wait: cfg.BlockWait, retryDelay: cfg.RetryDelay}
	if b.key == "" {
		b.key = "manof:records"
	}
	if b.wait <= 0 {
		b.wait = 5 * time.Second
	}
	if b.retryDelay <= 0 {
		b.retryDelay = time.Second
	}
	return b
}

// Publish 将事件编码后推入 Redis 列表。
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}
	if err := b.client.LPush(ctx, b.key, data).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布事件失败", xerrors.WithMetadata("op_id", event.ID))
	}
	return nil
}

// Consume 通过 BRPOP 读取事件。无法解码的消息会被丢弃；处理失败的消息
// 重新放回队列另一端，排在已积压的事件之后，并在 RetryDelay 后继续读取。
func (b *RedisBus) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		values, err := b.client.BRPop(ctx, b.wait, b.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 读取事件失败")
		}
		if len(values) != 2 {
			continue
		}
		event, err := Decode([]byte(values[1]))
		if err != nil {
			continue
		}
		if err := handler(ctx, event); err == nil {
			continue
		}
		if err := b.client.LPush(ctx, b.key, values[1]).Err(); err != nil && ctx.Err() == nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 重新投递事件失败", xerrors.WithMetadata("op_id", event.ID))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay):
		}
	}
}

// Close 关闭 Redis 连接。
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
