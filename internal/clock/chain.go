package clock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// HeaderReader 是读取区块头所需的最小接口，ethclient.Client 满足该接口。
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
}

// Chain 以最新区块的时间戳作为当前时间。
type Chain struct {
	reader  HeaderReader
	timeout time.Duration
}

// NewChain 基于给定的区块头读取器创建 Chain。
func NewChain(reader HeaderReader, timeout time.Duration) *Chain {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Chain{reader: reader, timeout: timeout}
}

// DialChain 连接 RPC 节点并返回 Chain 及用于关闭连接的函数。
func DialChain(ctx context.Context, rpcURL string) (*Chain, func(), error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, nil, errors.New("未配置区块链 RPC 地址")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("连接区块链节点失败: %w", err)
	}
	return NewChain(client, 0), client.Close, nil
}

// Now 实现 Clock 接口。
func (c *Chain) Now(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	header, err := c.reader.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("读取最新区块头失败: %w", err)
	}
	if header == nil {
		return 0, errors.New("节点返回空区块头")
	}
	if header.Time > math.MaxInt64 {
		return 0, fmt.Errorf("区块时间戳越界: %d", header.Time)
	}
	return int64(header.Time), nil
}
