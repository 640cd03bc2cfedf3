// Package memring provides a memcached binary-protocol client library
// with client-side consistent hashing.
//
// Memring shards a keyspace across a fixed set of memcached-compatible
// server nodes. Routing happens entirely in the client: each key is
// hashed onto a consistent-hash ring, so every client configured with
// the same node list sends a given key to the same node, and changing
// the node list only remaps the keys whose ring segments moved.
//
// # Architecture Overview
//
// Memring consists of several key components:
//
//   - Client SDK: high-level operations with automatic node selection
//   - Protocol: the memcached binary wire format (requests, responses, framing)
//   - Ring: consistent hashing with per-node virtual positions
//   - Pool: a bounded connection pool per server node
//   - Compress: transparent value compression above a size threshold
//   - Transport: pluggable dialing and connection primitives
//   - Config: environment-driven configuration with validation
//
// # Quick Start
//
// Client:
//
//	import "github.com/memring/memring/pkg/client"
//
//	c, err := client.New([]string{"cache1:11211", "cache2:11211"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	ctx := context.Background()
//	err = c.Set(ctx, "user:123", profileBytes, 3600)
//	value, found, err := c.Get(ctx, "user:123")
//
// Multi-key operations batch per node and run the nodes concurrently,
// so a single call fans out across the cluster:
//
//	values, failures, err := c.MultiGet(ctx, keys)
//
// A node that is unreachable fails only the keys it owns; results from
// healthy nodes are always returned alongside the per-key failures.
package memring
