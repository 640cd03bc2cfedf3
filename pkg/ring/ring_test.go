package ring

import (
	"fmt"
	"testing"
)

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, 100); err == nil {
		t.Error("expected error for empty node list")
	}
	if _, err := New([]string{"node1:11211"}, 0); err == nil {
		t.Error("expected error for zero replicas")
	}
	if _, err := New([]string{"node1:11211"}, 1); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGetIsDeterministic(t *testing.T) {
	nodes := []string{"node1:11211", "node2:11211", "node3:11211"}
	r, err := New(nodes, 100)
	if err != nil {
		t.Fatal(err)
	}

	key := []byte("test_key_1")
	first := r.Get(key)
	if first < 0 || first >= len(nodes) {
		t.Fatalf("node index out of range: %d", first)
	}

	for i := 0; i < 100; i++ {
		if r.Get(key) != first {
			t.Fatal("Get should be consistent for an unchanged ring")
		}
	}

	// A fresh ring over the same nodes must resolve identically.
	r2, err := New(nodes, 100)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("key_%d", i))
		if r.Get(key) != r2.Get(key) {
			t.Fatalf("rings built from the same nodes disagree on %q", key)
		}
	}
}

func TestDistribution(t *testing.T) {
	nodes := []string{"node1:11211", "node2:11211", "node3:11211"}
	r, err := New(nodes, 150)
	if err != nil {
		t.Fatal(err)
	}

	distribution := make(map[int]int)
	const total = 10000
	for i := 0; i < total; i++ {
		distribution[r.Get([]byte(fmt.Sprintf("key_%d", i)))]++
	}

	for node, count := range distribution {
		if count < total/6 || count > total/2 {
			t.Errorf("poor distribution for node %d: %d of %d keys", node, count, total)
		}
	}
}

func TestAddingNodeRemapsBoundedFraction(t *testing.T) {
	before := []string{"node1:11211", "node2:11211", "node3:11211"}
	after := append(append([]string(nil), before...), "node4:11211")

	r1, err := New(before, 150)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := New(after, 150)
	if err != nil {
		t.Fatal(err)
	}

	const total = 10000
	moved := 0
	for i := 0; i < total; i++ {
		key := []byte(fmt.Sprintf("key_%d", i))
		n1 := r1.Get(key)
		n2 := r2.Get(key)
		if n1 != n2 {
			// Keys may only move to the new node, never between
			// surviving nodes.
			if n2 != 3 {
				t.Fatalf("key %q moved between existing nodes: %d -> %d", key, n1, n2)
			}
			moved++
		}
	}

	// Expectation is 1/(N+1) = 25%; allow generous slack for hash noise.
	if moved > total/2 {
		t.Errorf("adding one node remapped %d of %d keys", moved, total)
	}
	if moved == 0 {
		t.Error("adding a node should remap some keys")
	}
}

func TestPartition(t *testing.T) {
	nodes := []string{"node1:11211", "node2:11211", "node3:11211"}
	r, err := New(nodes, 100)
	if err != nil {
		t.Fatal(err)
	}

	keys := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	groups := r.Partition(keys)
	if len(groups) != len(nodes) {
		t.Fatalf("expected %d groups, got %d", len(nodes), len(groups))
	}

	seen := 0
	for node, group := range groups {
		for _, key := range group {
			if r.Get([]byte(key)) != node {
				t.Errorf("key %q grouped under node %d but resolves to %d", key, node, r.Get([]byte(key)))
			}
			seen++
		}
	}
	if seen != len(keys) {
		t.Errorf("partition lost keys: saw %d of %d", seen, len(keys))
	}
}
