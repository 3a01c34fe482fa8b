package main

import (
	"context"
	"fmt"
	"time"

	"Manof-Chain/internal/clock"
	"Manof-Chain/internal/config"
	"Manof-Chain/internal/events"
	"Manof-Chain/internal/index"
	"Manof-Chain/internal/ledger"
	"Manof-Chain/pkg/logger"
)

// loadConfig 读取配置并初始化全局日志。
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

func buildStore(ctx context.Context, cfg config.LedgerConfig) (ledger.Store, error) {
	pricing := ledger.Pricing{RentPerByte: cfg.Allocation.RentPerByte}
	switch cfg.Driver {
	case "memory":
		return ledger.NewMemoryStore(pricing), nil
	case ledger.DriverMySQL, ledger.DriverSQLite:
		return ledger.NewSQLStore(ctx, ledger.SQLConfig{
			Driver:          cfg.Driver,
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime(),
			Pricing:         pricing,
		})
	default:
		return nil, fmt.Errorf("未知的 ledger 驱动: %s", cfg.Driver)
	}
}

func buildClock(ctx context.Context, cfg config.ClockConfig) (clock.Clock, func(), error) {
	switch cfg.Source {
	case "chain":
		chain, closeFn, err := clock.DialChain(ctx, cfg.RPCURL)
		if err != nil {
			return nil, nil, err
		}
		return clock.NewMonotonic(chain), closeFn, nil
	default:
		return clock.NewMonotonic(clock.System{}), func() {}, nil
	}
}

// eventBus 汇总发布端与可选的订阅端。MemoryBus 使用同步订阅，subscriber 为空。
type eventBus struct {
	publisher  events.Publisher
	subscriber events.Subscriber
	memory     *events.MemoryBus
}

func buildEvents(ctx context.Context, cfg config.EventsConfig) (*eventBus, error) {
	switch cfg.Driver {
	case "none":
		return &eventBus{publisher: events.Nop{}}, nil
	case "memory":
		bus := events.NewMemoryBus(0)
		return &eventBus{publisher: bus, memory: bus}, nil
	case "redis":
		bus, err := events.NewRedisBus(ctx, events.RedisConfig{
			Address:    cfg.Redis.Address,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Key:        cfg.Redis.Key,
			BlockWait:  5 * time.Second,
			RetryDelay: time.Second,
		})
		if err != nil {
			return nil, err
		}
		return &eventBus{publisher: bus, subscriber: bus}, nil
	case "rabbitmq":
		bus, err := events.NewRabbitMQBus(events.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Durable:  cfg.RabbitMQ.Durable,
		})
		if err != nil {
			return nil, err
		}
		return &eventBus{publisher: bus, subscriber: bus}, nil
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Driver)
	}
}

func buildIndex(ctx context.Context, cfg config.IndexConfig) (index.SecurityIndex, error) {
	switch cfg.Driver {
	case "redis":
		return index.NewRedisIndex(ctx, index.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Key,
		})
	default:
		return index.NewMemoryIndex(), nil
	}
}

// feedIndex 将事件流接入安全索引，返回取消订阅的函数。
func feedIndex(ctx context.Context, bus *eventBus, idx index.SecurityIndex) func() {
	handler := index.Feed(idx)
	if bus.memory != nil {
		return bus.memory.Subscribe(handler)
	}
	if bus.subscriber == nil {
		return func() {}
	}
	consumeCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := bus.subscriber.Consume(consumeCtx, handler); err != nil && consumeCtx.Err() == nil {
			logger.Named("index").Error("安全索引消费中断", "error", err)
		}
	}()
	return cancel
}
