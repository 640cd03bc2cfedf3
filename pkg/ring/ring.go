// Package ring provides consistent hashing for routing keys to cache nodes.
//
// A Ring maps arbitrary byte keys onto a fixed set of server nodes. Each
// node is hashed onto the ring multiple times ("replicas") to smooth key
// distribution, and keys are located with a binary search over the sorted
// ring positions. Adding or removing a node from the configured set only
// remaps the keys whose positions fall inside that node's ring segments.
//
// The ring is immutable once built. Membership changes are handled by
// constructing a new Ring from the new node list, so concurrent readers
// never observe a half-updated ring.
//
// Example usage:
//
//	r, err := ring.New([]string{"cache1:11211", "cache2:11211"}, 100)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	idx := r.Get([]byte("user:123"))
//	fmt.Printf("key 'user:123' maps to node %s\n", r.Node(idx))
package ring

import (
	"fmt"
	"sort"

	"github.com/spaolacci/murmur3"
)

// DefaultReplicas is the default number of ring positions per node.
// More replicas give a smoother key distribution at the cost of a
// larger ring.
const DefaultReplicas = 100

// position is one point on the ring: a 32-bit hash owned by a node.
type position struct {
	hash uint32
	node int
}

// Ring is an immutable consistent-hash ring over a fixed node list.
// Nodes are referenced by their index into the configured list so that
// callers can keep connection pools and addresses in parallel slices.
//
// All methods are safe for concurrent use; the ring is never mutated
// after New returns.
type Ring struct {
	nodes     []string   // configured node addresses, in caller order
	positions []position // sorted ring positions
}

// New builds a Ring from the given node addresses. Each address is
// hashed replicas times with murmur3 (x86, 32-bit), using the replica
// index as the hash seed, so every node owns replicas segments of the
// ring. Positions that hash to the same value are ordered by node index
// so resolution stays deterministic.
//
// An empty node list or a replica count below 1 is a configuration
// error and fails here rather than at request time.
func New(nodes []string, replicas int) (*Ring, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("ring: at least one node is required")
	}
	if replicas < 1 {
		return nil, fmt.Errorf("ring: replica count must be positive: %d", replicas)
	}

	r := &Ring{
		nodes:     append([]string(nil), nodes...),
		positions: make([]position, 0, len(nodes)*replicas),
	}

	for i, node := range r.nodes {
		for rep := 0; rep < replicas; rep++ {
			h := murmur3.Sum32WithSeed([]byte(node), uint32(rep))
			r.positions = append(r.positions, position{hash: h, node: i})
		}
	}

	sort.Slice(r.positions, func(i, j int) bool {
		if r.positions[i].hash != r.positions[j].hash {
			return r.positions[i].hash < r.positions[j].hash
		}
		return r.positions[i].node < r.positions[j].node
	})

	return r, nil
}

// Get returns the index of the node responsible for key. The key is
// hashed with murmur3 and resolved to the first ring position with a
// hash greater than or equal to the key's hash, wrapping around to the
// smallest position when the key hashes past the end of the ring.
//
// The same key always resolves to the same node for a given ring.
func (r *Ring) Get(key []byte) int {
	h := murmur3.Sum32(key)
	idx := sort.Search(len(r.positions), func(i int) bool {
		return r.positions[i].hash >= h
	})
	if idx == len(r.positions) {
		idx = 0
	}
	return r.positions[idx].node
}

// Partition groups keys by the node that owns them. The result has one
// slice per configured node, indexed like Nodes(), and each slice
// preserves the caller's key order. Nodes that own none of the keys get
// an empty slice.
func (r *Ring) Partition(keys []string) [][]string {
	groups := make([][]string, len(r.nodes))
	for _, key := range keys {
		n := r.Get([]byte(key))
		groups[n] = append(groups[n], key)
	}
	return groups
}

// Node returns the address of the node at the given index.
func (r *Ring) Node(i int) string {
	return r.nodes[i]
}

// Nodes returns a copy of the configured node addresses in their
// original order.
func (r *Ring) Nodes() []string {
	return append([]string(nil), r.nodes...)
}

// Size returns the number of configured nodes.
func (r *Ring) Size() int {
	return len(r.nodes)
}
