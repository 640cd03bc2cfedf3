// Package pkg contains the public packages of the memring client
// library.
//
// # Components
//
// Client SDK (pkg/client):
//   - Get, Set, Delete and their pipelined multi-key variants
//   - Automatic node selection via consistent hashing
//   - Connection pooling per server node
//   - Transparent compression of large values
//   - Prometheus instrumentation
//
// Protocol (pkg/protocol):
//   - memcached binary wire format
//   - Request builders for get, set, delete, noop and the quiet and
//     key-echoing variants used by pipelined batches
//   - Strict response framing with typed errors
//
// Ring (pkg/ring):
//   - Consistent-hash ring over the configured node list
//   - Virtual positions per node for smooth key distribution
//   - Immutable after construction, safe for concurrent readers
//
// Pool (pkg/pool):
//   - Bounded connection pool per node
//   - Acquire with timeout and context cancellation
//   - Release for reuse, discard after stream errors
//
// Compress (pkg/compress):
//   - zlib and no-op value compressors
//   - Failures surface as typed errors, never as raw bytes
//
// Transport (pkg/transport):
//   - Dialer and Conn interfaces binding the client to its host
//     environment, with a TCP default
//
// Config (pkg/config):
//   - Client and server configuration from environment variables
//   - Validation at construction time
//
// For detailed documentation, refer to the individual package docs.
package pkg
