package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	xerrors "Manof-Chain/internal/errors"
)

// RedisConfig 描述 Redis 索引的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisIndex 为每个 Agent 维护一个有序集合，分值为 LastUpdate，成员为上报地址。
type RedisIndex struct {
	client *redis.Client
	prefix string
}

// NewRedisIndex 连接 Redis 并创建索引。
func NewRedisIndex(ctx context.Context, cfg RedisConfig) (*RedisIndex, error) {
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
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "manof:security"
	}
	return &RedisIndex{client: client, prefix: prefix}, nil
}

func (r *RedisIndex) key(agent common.Address) string {
	return r.prefix + ":" + agent.Hex()
}

// memberOf 返回小写十六进制成员名。分值相同时 Redis 按成员字节序排序，
// 小写形式与地址字节序一致，EIP-55 大小写混排则不然。
func memberOf(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// Record 实现 SecurityIndex 接口。
func (r *RedisIndex) Record(ctx context.Context, entry Entry) error {
	err := r.client.ZAdd(ctx, r.key(entry.Agent), redis.Z{
		Score:  float64(entry.LastUpdate),
		Member: memberOf(entry.Monitor),
	}).Err()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入安全索引失败")
	}
	return nil
}

// Latest 实现 SecurityIndex 接口。
func (r *RedisIndex) Latest(ctx context.Context, agent common.Address) (Entry, error) {
	members, err := r.client.ZRevRangeWithScores(ctx, r.key(agent), 0, 0).Result()
	if err != nil {
		return Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询安全索引失败")
	}
	if len(members) == 0 {
		return Entry{}, ErrNotFound
	}
	member, ok := members[0].Member.(string)
	if !ok || !common.IsHexAddress(member) {
		return Entry{}, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("安全索引成员格式错误: %v", members[0].Member))
	}
	return Entry{
		Agent:      agent,
		Monitor:    common.HexToAddress(member),
		LastUpdate: int64(members[0].Score),
	}, nil
}

// Close 关闭 Redis 连接。
func (r *RedisIndex) Close() error {
	return r.client.Close()
}
