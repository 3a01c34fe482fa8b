package index

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "Manof-Chain/internal/errors"
	"Manof-Chain/internal/events"
	"Manof-Chain/internal/record"
)

var agent = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func TestMemoryIndexKeepsLatest(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	if _, err := idx.Latest(ctx, agent); !errors.Is(err, ErrNotFound) || !xerrors.HasCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	entries := []Entry{
		{Agent: agent, Monitor: common.HexToAddress("0x01"), LastUpdate: 100},
		{Agent: agent, Monitor: common.HexToAddress("0x02"), LastUpdate: 300},
		{Agent: agent, Monitor: common.HexToAddress("0x03"), LastUpdate: 200},
	}
	for _, e := range entries {
		if err := idx.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	latest, err := idx.Latest(ctx, agent)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Monitor != common.HexToAddress("0x02") || latest.LastUpdate != 300 {
		t.Fatalf("unexpected latest: %+v", latest)
	}
}

func TestMemoryIndexTieBreaksByAddress(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	high := common.HexToAddress("0xff")
	low := common.HexToAddress("0x01")
	_ = idx.Record(ctx, Entry{Agent: agent, Monitor: high, LastUpdate: 10})
	_ = idx.Record(ctx, Entry{Agent: agent, Monitor: low, LastUpdate: 10})

	latest, _ := idx.Latest(ctx, agent)
	if latest.Monitor != high {
		t.Fatalf("expected higher address to win tie, got %s", latest.Monitor.Hex())
	}
}

func TestRedisMemberOrderMatchesAddressOrder(t *testing.T) {
	high := common.HexToAddress("0xbb00000000000000000000000000000000000000")
	low := common.HexToAddress("0xaa00000000000000000000000000000000000000")
	if memberOf(high) <= memberOf(low) {
		t.Fatalf("member order disagrees: %s <= %s", memberOf(high), memberOf(low))
	}

	addrs := make([]common.Address, 64)
	for i := range addrs {
		addrs[i] = common.BytesToAddress(crypto.Keccak256([]byte{byte(i)}))
	}
	for i := range addrs {
		for j := range addrs {
			want := bytes.Compare(addrs[i].Bytes(), addrs[j].Bytes())
			if got := strings.Compare(memberOf(addrs[i]), memberOf(addrs[j])); got != want {
				t.Fatalf("%s vs %s: member order %d, byte order %d", addrs[i].Hex(), addrs[j].Hex(), got, want)
			}
		}
	}
}

func TestRedisIndexTieBreaksByAddress(t *testing.T) {
	addr := os.Getenv("MANOF_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MANOF_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	idx, err := NewRedisIndex(ctx, RedisConfig{Address: addr, Prefix: "manof:test:" + t.Name()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer idx.Close()
	defer idx.client.Del(ctx, idx.key(agent))

	high := common.HexToAddress("0xbb00000000000000000000000000000000000000")
	low := common.HexToAddress("0xaa00000000000000000000000000000000000000")
	for _, monitor := range []common.Address{low, high} {
		if err := idx.Record(ctx, Entry{Agent: agent, Monitor: monitor, LastUpdate: 10}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	latest, err := idx.Latest(ctx, agent)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Monitor != high {
		t.Fatalf("expected higher address to win tie, got %s", latest.Monitor.Hex())
	}
}

func TestFeedIndexesSecurityEvents(t *testing.T) {
	idx := NewMemoryIndex()
	bus := events.NewMemoryBus(0)
	bus.Subscribe(Feed(idx))
	ctx := context.Background()

	monitorAddr := common.HexToAddress("0xb2")
	monitor := &record.SecurityMonitor{Agent: agent, LastUpdate: 42}
	event, err := events.New(events.OpSecurityUpdated, monitorAddr, agent, agent, monitor.LastUpdate, monitor)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if err := bus.Publish(ctx, event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	other, err := events.New(events.OpAgentCreated, agent, agent, agent, 50, &record.Agent{Owner: agent, Name: "scout"})
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if err := bus.Publish(ctx, other); err != nil {
		t.Fatalf("publish: %v", err)
	}

	latest, err := idx.Latest(ctx, agent)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Monitor != monitorAddr || latest.LastUpdate != 42 {
		t.Fatalf("unexpected entry: %+v", latest)
	}
}
