package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"spacelink/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: "ws://127.0.0.1:8001/ws", Weight: 10, Version: "1.0"},
	{Addr: "ws://127.0.0.1:8002/ws", Weight: 5, Version: "1.0"},
	{Addr: "ws://127.0.0.1:8003/ws", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 次，应该轮询到全部实例
	seen := map[string]bool{}
	first := ""
	for i := 0; i < 3; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = inst.Addr
		}
		seen[inst.Addr] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expect all 3 instances, got %v", seen)
	}

	// 第 4 次回到第一个
	inst, _ := b.Pick("", testInstances)
	if inst.Addr != first {
		t.Fatalf("expect wrap around to %s, got %s", first, inst.Addr)
	}
}

func TestEmptyInstances(t *testing.T) {
	for _, name := range []string{"round_robin", "weighted_random", "consistent_hash"} {
		b, err := New(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := b.Pick("k", nil); !errors.Is(err, ErrNoInstances) {
			t.Fatalf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
	if _, err := New("fastest"); err == nil {
		t.Fatal("expect error for unknown strategy")
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// 权重 10:5:10，8001 的次数应该约为 8002 的 2 倍
	ratio := float64(counts[testInstances[0].Addr]) / float64(counts[testInstances[1].Addr])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio 8001/8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer(100)

	// 同一个 key 总是落到同一个实例
	inst1, _ := b.Pick("user-123", testInstances)
	inst2, _ := b.Pick("user-123", testInstances)
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("key-%d", i), testInstances)
		seen[inst.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}

	// 顺序不同但实例集合相同，结果不变
	reversed := []registry.ServiceInstance{testInstances[2], testInstances[1], testInstances[0]}
	inst3, _ := b.Pick("user-123", reversed)
	if inst3.Addr != inst1.Addr {
		t.Fatalf("instance order must not matter: %s vs %s", inst3.Addr, inst1.Addr)
	}
}
