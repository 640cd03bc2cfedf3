// Package client provides the memring cache client: a memcached
// binary-protocol client that routes keys across a fixed set of server
// nodes with consistent hashing, pools connections per node, and
// transparently compresses large values.
//
// Multi-key operations partition keys by owning node, pipeline each
// node's subset over a single pooled connection using the protocol's
// quiet opcodes, and run the per-node pipelines concurrently. Failures
// are scoped: a node that is down fails only the keys it owns, and the
// results from healthy nodes are always returned.
//
// Example usage:
//
//	c, err := client.New([]string{"cache1:11211", "cache2:11211"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	ctx := context.Background()
//	if err := c.Set(ctx, "greeting", []byte("hello"), 300); err != nil {
//		log.Fatal(err)
//	}
//
//	value, found, err := c.Get(ctx, "greeting")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if found {
//		fmt.Printf("greeting = %s\n", value)
//	}
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/memring/memring/pkg/compress"
	"github.com/memring/memring/pkg/config"
	"github.com/memring/memring/pkg/pool"
	"github.com/memring/memring/pkg/protocol"
	"github.com/memring/memring/pkg/ring"
	"github.com/memring/memring/pkg/transport"
)

// flagCompressed is the client-flags bit recorded on values that were
// compressed before storage. Reads decompress if and only if this bit
// is set, so compressed and plain values coexist in one cluster.
const flagCompressed uint32 = 1 << 0

// Client is a cache client over a fixed set of memcached-compatible
// nodes. It is safe for concurrent use; create one Client per cluster
// and share it.
type Client struct {
	cfg  *config.ClientConfig
	ring *ring.Ring

	// pools is indexed like the ring's node list.
	pools []*pool.Pool

	compressor        compress.Compressor
	compressEnabled   bool
	compressThreshold int

	ioTimeout time.Duration
	metrics   *metrics

	closeOnce sync.Once
}

// New creates a Client for the given node addresses using configuration
// from environment variables and defaults.
//
// Parameters:
//   - nodes: cache server addresses in "host:port" form
//
// Returns the client, or an error if the configuration is invalid.
func New(nodes []string) (*Client, error) {
	cfg := config.LoadClientConfig()
	cfg.Nodes = nodes
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Client from an explicit configuration,
// connecting over TCP. The configuration is validated here; no
// connections are dialed until the first operation needs one.
func NewWithConfig(cfg *config.ClientConfig) (*Client, error) {
	dialer := &transport.NetDialer{
		Timeout: time.Duration(cfg.ConnTimeout) * time.Second,
	}
	return NewWithDialer(cfg, dialer)
}

// NewWithDialer creates a Client that reaches its nodes through the
// given dialer. This is the binding point for proxied, in-memory, or
// otherwise non-TCP transports.
func NewWithDialer(cfg *config.ClientConfig, dialer transport.Dialer) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client: invalid config: %w", err)
	}

	r, err := ring.New(cfg.Nodes, cfg.RingReplicas)
	if err != nil {
		return nil, err
	}

	acquireTimeout := time.Duration(cfg.AcquireTimeout) * time.Second
	pools := make([]*pool.Pool, r.Size())
	for i := 0; i < r.Size(); i++ {
		p, err := pool.New(r.Node(i), dialer, cfg.MaxConnsPerNode, acquireTimeout)
		if err != nil {
			return nil, err
		}
		pools[i] = p
	}

	c := &Client{
		cfg:               cfg,
		ring:              r,
		pools:             pools,
		compressThreshold: cfg.CompressionThreshold,
		ioTimeout:         time.Duration(cfg.IOTimeout) * time.Second,
		metrics:           getMetrics(),
	}

	switch cfg.Compression {
	case config.CompressionZlib:
		z := compress.NewZlib()
		if cfg.CompressionLevel != 0 {
			z.Level = cfg.CompressionLevel
		}
		c.compressor = z
		c.compressEnabled = true
	case config.CompressionNone:
		c.compressor = compress.Noop{}
	}

	return c, nil
}

// Close shuts down all connection pools. The client must not be used
// after Close.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		for _, p := range c.pools {
			_ = p.Close()
		}
	})
	return nil
}

// Get retrieves the value stored under key.
//
// Returns:
//   - the value and true when the key is present
//   - nil and false when the key is absent; a miss is not an error
//   - an error for transport, protocol, or decompression failures
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	defer func() {
		c.metrics.RequestDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	}()

	req, err := protocol.Get([]byte(key))
	if err != nil {
		c.metrics.recordRequest("get", err)
		return nil, false, err
	}

	resp, err := c.roundTrip(ctx, c.ring.Get([]byte(key)), req)
	if err != nil {
		c.metrics.recordRequest("get", err)
		return nil, false, err
	}

	if resp.Header.Status == protocol.StatusKeyNotFound {
		c.metrics.MissesTotal.Inc()
		c.metrics.RequestsTotal.WithLabelValues("get", "miss").Inc()
		return nil, false, nil
	}
	if err := resp.ErrorForStatus(); err != nil {
		c.metrics.recordRequest("get", err)
		return nil, false, err
	}

	value, err := c.decodeValue(resp)
	if err != nil {
		c.metrics.recordRequest("get", err)
		return nil, false, err
	}

	c.metrics.HitsTotal.Inc()
	c.metrics.recordRequest("get", nil)
	return value, true, nil
}

// Set stores value under key with an expiration in seconds (0 means
// never expire, subject to server eviction). Values at or above the
// configured compression threshold are compressed and marked in the
// item's flags.
func (c *Client) Set(ctx context.Context, key string, value []byte, expire uint32) error {
	start := time.Now()
	defer func() {
		c.metrics.RequestDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())
	}()

	stored, flags, err := c.encodeValue(value)
	if err != nil {
		c.metrics.recordRequest("set", err)
		return err
	}

	req, err := protocol.Set([]byte(key), stored, flags, expire)
	if err != nil {
		c.metrics.recordRequest("set", err)
		return err
	}

	resp, err := c.roundTrip(ctx, c.ring.Get([]byte(key)), req)
	if err != nil {
		c.metrics.recordRequest("set", err)
		return err
	}

	err = resp.ErrorForStatus()
	c.metrics.recordRequest("set", err)
	return err
}

// Delete removes the value stored under key. Deleting a key that does
// not exist is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer func() {
		c.metrics.RequestDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())
	}()

	req, err := protocol.Delete([]byte(key))
	if err != nil {
		c.metrics.recordRequest("delete", err)
		return err
	}

	resp, err := c.roundTrip(ctx, c.ring.Get([]byte(key)), req)
	if err != nil {
		c.metrics.recordRequest("delete", err)
		return err
	}

	if resp.Header.Status == protocol.StatusKeyNotFound {
		c.metrics.recordRequest("delete", nil)
		return nil
	}
	err = resp.ErrorForStatus()
	c.metrics.recordRequest("delete", err)
	return err
}

// Ping checks liveness of every node by sending a NOOP over a pooled
// connection. It returns the first failure, identifying the node.
func (c *Client) Ping(ctx context.Context) error {
	for i := range c.pools {
		resp, err := c.roundTrip(ctx, i, protocol.Noop())
		if err == nil {
			err = resp.ErrorForStatus()
		}
		if err != nil {
			return fmt.Errorf("client: ping %s: %w", c.ring.Node(i), err)
		}
	}
	return nil
}

// MultiGet retrieves many keys in one pipelined pass per node.
//
// Returns:
//   - values: key to value for every key that was found
//   - failures: key to error for keys whose node, value, or validation
//     failed; absent keys appear in neither map
//
// Keys owned by an unreachable node fail together in the failures map;
// keys on healthy nodes are unaffected.
func (c *Client) MultiGet(ctx context.Context, keys []string) (map[string][]byte, map[string]error, error) {
	start := time.Now()
	defer func() {
		c.metrics.RequestDuration.WithLabelValues("multi_get").Observe(time.Since(start).Seconds())
	}()

	values := make(map[string][]byte, len(keys))
	failures := make(map[string]error)
	if len(keys) == 0 {
		return values, failures, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for node, group := range c.ring.Partition(keys) {
		if len(group) == 0 {
			continue
		}
		node, group := node, group
		g.Go(func() error {
			got, errs := c.multiGetNode(gctx, node, group)
			mu.Lock()
			for k, v := range got {
				values[k] = v
			}
			for k, err := range errs {
				failures[k] = err
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.logFailures("multi_get", failures)
	c.metrics.recordRequest("multi_get", nil)
	return values, failures, nil
}

// MultiSet stores many key/value pairs in one pipelined pass per node,
// all with the same expiration.
//
// Returns a key-to-error map for the pairs that failed; an empty map
// means every pair was stored.
func (c *Client) MultiSet(ctx context.Context, items map[string][]byte, expire uint32) (map[string]error, error) {
	start := time.Now()
	defer func() {
		c.metrics.RequestDuration.WithLabelValues("multi_set").Observe(time.Since(start).Seconds())
	}()

	failures := make(map[string]error)
	if len(items) == 0 {
		return failures, nil
	}

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for node, group := range c.ring.Partition(keys) {
		if len(group) == 0 {
			continue
		}
		node, group := node, group
		g.Go(func() error {
			errs := c.multiSetNode(gctx, node, group, items, expire)
			mu.Lock()
			for k, err := range errs {
				failures[k] = err
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.logFailures("multi_set", failures)
	c.metrics.recordRequest("multi_set", nil)
	return failures, nil
}

// MultiDelete removes many keys in one pipelined pass per node.
//
// Returns a key-to-error map for the keys that failed, including keys
// that were not present; an empty map means every key was removed.
func (c *Client) MultiDelete(ctx context.Context, keys []string) (map[string]error, error) {
	start := time.Now()
	defer func() {
		c.metrics.RequestDuration.WithLabelValues("multi_delete").Observe(time.Since(start).Seconds())
	}()

	failures := make(map[string]error)
	if len(keys) == 0 {
		return failures, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for node, group := range c.ring.Partition(keys) {
		if len(group) == 0 {
			continue
		}
		node, group := node, group
		g.Go(func() error {
			errs := c.multiDeleteNode(gctx, node, group)
			mu.Lock()
			for k, err := range errs {
				failures[k] = err
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.logFailures("multi_delete", failures)
	c.metrics.recordRequest("multi_delete", nil)
	return failures, nil
}

// multiGetNode pipelines one node's keys over a single connection:
// quiet key-echoing gets for all keys but the last, then a plain
// key-echoing get whose response terminates the read loop. Misses
// produce no response at all, so silence is the fast path.
func (c *Client) multiGetNode(ctx context.Context, node int, keys []string) (map[string][]byte, map[string]error) {
	values := make(map[string][]byte)
	errs := make(map[string]error)

	// An invalid key fails alone; its siblings still get pipelined.
	frames := make([]*protocol.Packet, 0, len(keys))
	opaqueKey := make(map[uint32]string, len(keys))
	pending := make([]string, 0, len(keys))
	for _, key := range keys {
		pkt, err := protocol.GetKQ([]byte(key))
		if err != nil {
			errs[key] = err
			continue
		}
		pending = append(pending, key)
		frames = append(frames, pkt)
	}
	if len(frames) == 0 {
		return values, errs
	}
	for i, pkt := range frames {
		pkt.Header.Opaque = uint32(i)
		opaqueKey[uint32(i)] = pending[i]
	}
	// The terminator must answer even on a miss.
	frames[len(frames)-1].Header.Opcode = protocol.OpGetK
	lastOpaque := frames[len(frames)-1].Header.Opaque

	entry, err := c.pools[node].Acquire(ctx)
	if err != nil {
		c.noteAcquireError(err)
		return values, mergeErrors(errs, c.failAll(pending, err))
	}

	if err := c.writeFrames(entry.Conn, frames); err != nil {
		entry.Discard()
		return values, mergeErrors(errs, c.failAll(pending, err))
	}

	for {
		resp, err := c.readResponse(entry.Conn)
		if err != nil {
			entry.Discard()
			// Keys without a recorded outcome share the stream error.
			for _, key := range pending {
				if _, ok := values[key]; ok {
					continue
				}
				if _, ok := errs[key]; ok {
					continue
				}
				errs[key] = err
			}
			return values, errs
		}

		key, ok := opaqueKey[resp.Header.Opaque]
		if !ok {
			entry.Discard()
			return values, mergeErrors(errs, c.failAll(pending, fmt.Errorf("client: response for unknown request (opaque %d)", resp.Header.Opaque)))
		}

		switch resp.Header.Status {
		case protocol.StatusNoError:
			value, derr := c.decodeValue(resp)
			if derr != nil {
				errs[key] = derr
			} else {
				values[key] = value
			}
		case protocol.StatusKeyNotFound:
			// Only the terminating non-quiet get can miss aloud.
		default:
			errs[key] = resp.ErrorForStatus()
		}

		if resp.Header.Opaque == lastOpaque {
			break
		}
	}

	entry.Release()

	failed := 0
	for _, key := range pending {
		if _, ok := errs[key]; ok {
			failed++
		}
	}
	c.metrics.HitsTotal.Add(float64(len(values)))
	c.metrics.MissesTotal.Add(float64(len(pending) - len(values) - failed))
	return values, errs
}

// multiSetNode pipelines one node's pairs: quiet sets for all pairs but
// the last, then a plain set as the terminator. Successful quiet sets
// are silent; any response before the terminator is a failure matched
// back to its key by the opaque token.
func (c *Client) multiSetNode(ctx context.Context, node int, keys []string, items map[string][]byte, expire uint32) map[string]error {
	errs := make(map[string]error)

	frames := make([]*protocol.Packet, 0, len(keys))
	opaqueKey := make(map[uint32]string, len(keys))
	pending := make([]string, 0, len(keys))
	for _, key := range keys {
		stored, flags, err := c.encodeValue(items[key])
		if err != nil {
			errs[key] = err
			continue
		}
		pkt, err := protocol.Set([]byte(key), stored, flags, expire)
		if err != nil {
			errs[key] = err
			continue
		}
		pending = append(pending, key)
		frames = append(frames, pkt)
	}
	if len(frames) == 0 {
		return errs
	}
	for i, pkt := range frames {
		if i < len(frames)-1 {
			pkt.Header.Opcode = protocol.OpSetQ
		}
		pkt.Header.Opaque = uint32(i)
		opaqueKey[uint32(i)] = pending[i]
	}
	lastOpaque := frames[len(frames)-1].Header.Opaque

	entry, err := c.pools[node].Acquire(ctx)
	if err != nil {
		c.noteAcquireError(err)
		return mergeErrors(errs, c.failAll(pending, err))
	}

	if err := c.writeFrames(entry.Conn, frames); err != nil {
		entry.Discard()
		return mergeErrors(errs, c.failAll(pending, err))
	}

	settled := make(map[string]bool, len(pending))
	for {
		resp, err := c.readResponse(entry.Conn)
		if err != nil {
			entry.Discard()
			for _, key := range pending {
				if !settled[key] {
					errs[key] = err
				}
			}
			return errs
		}

		key, ok := opaqueKey[resp.Header.Opaque]
		if !ok {
			entry.Discard()
			return mergeErrors(errs, c.failAll(pending, fmt.Errorf("client: response for unknown request (opaque %d)", resp.Header.Opaque)))
		}
		settled[key] = true
		if serr := resp.ErrorForStatus(); serr != nil {
			errs[key] = serr
		}

		if resp.Header.Opaque == lastOpaque {
			break
		}
	}

	entry.Release()
	return errs
}

// multiDeleteNode pipelines plain deletes for one node's keys and reads
// the responses back in order. A key that was not present is reported
// in the error map with the server's not-found status.
func (c *Client) multiDeleteNode(ctx context.Context, node int, keys []string) map[string]error {
	errs := make(map[string]error)

	// An invalid key fails alone; its siblings still get pipelined.
	frames := make([]*protocol.Packet, 0, len(keys))
	opaqueKey := make(map[uint32]string, len(keys))
	pending := make([]string, 0, len(keys))
	for _, key := range keys {
		pkt, err := protocol.Delete([]byte(key))
		if err != nil {
			errs[key] = err
			continue
		}
		pending = append(pending, key)
		frames = append(frames, pkt)
	}
	if len(frames) == 0 {
		return errs
	}
	for i, pkt := range frames {
		pkt.Header.Opaque = uint32(i)
		opaqueKey[uint32(i)] = pending[i]
	}

	entry, err := c.pools[node].Acquire(ctx)
	if err != nil {
		c.noteAcquireError(err)
		return mergeErrors(errs, c.failAll(pending, err))
	}

	if err := c.writeFrames(entry.Conn, frames); err != nil {
		entry.Discard()
		return mergeErrors(errs, c.failAll(pending, err))
	}

	settled := make(map[string]bool, len(pending))
	for range frames {
		resp, err := c.readResponse(entry.Conn)
		if err != nil {
			entry.Discard()
			for _, key := range pending {
				if !settled[key] {
					errs[key] = err
				}
			}
			return errs
		}

		key, ok := opaqueKey[resp.Header.Opaque]
		if !ok {
			entry.Discard()
			return mergeErrors(errs, c.failAll(pending, fmt.Errorf("client: response for unknown request (opaque %d)", resp.Header.Opaque)))
		}
		settled[key] = true
		if serr := resp.ErrorForStatus(); serr != nil {
			errs[key] = serr
		}
	}

	entry.Release()
	return errs
}

// roundTrip sends one request on a pooled connection to the given node
// and reads one response. The connection is returned for reuse on
// success and discarded on any error, since a failed exchange leaves
// the stream position undefined.
func (c *Client) roundTrip(ctx context.Context, node int, req *protocol.Packet) (*protocol.Packet, error) {
	entry, err := c.pools[node].Acquire(ctx)
	if err != nil {
		c.noteAcquireError(err)
		return nil, err
	}

	if err := c.writeFrames(entry.Conn, []*protocol.Packet{req}); err != nil {
		entry.Discard()
		return nil, err
	}
	resp, err := c.readResponse(entry.Conn)
	if err != nil {
		entry.Discard()
		return nil, err
	}

	entry.Release()
	return resp, nil
}

func (c *Client) writeFrames(conn transport.Conn, frames []*protocol.Packet) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.ioTimeout)); err != nil {
		return err
	}
	for _, pkt := range frames {
		if err := protocol.Write(conn, pkt); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) readResponse(conn transport.Conn) (*protocol.Packet, error) {
	if err := conn.SetReadDeadline(time.Now().Add(c.ioTimeout)); err != nil {
		return nil, err
	}
	return protocol.ReadResponse(conn)
}

// encodeValue applies the compression policy to an outgoing value and
// returns the bytes to store along with the item flags.
func (c *Client) encodeValue(value []byte) ([]byte, uint32, error) {
	if !c.compressEnabled || len(value) < c.compressThreshold {
		return value, 0, nil
	}
	compressed, err := c.compressor.Compress(value)
	if err != nil {
		return nil, 0, err
	}
	c.metrics.CompressedTotal.Inc()
	return compressed, flagCompressed, nil
}

// decodeValue extracts the value from a get response, decompressing
// when the item flags say the value was compressed. A flagged value
// that fails to decompress is an error, never passed through raw.
func (c *Client) decodeValue(resp *protocol.Packet) ([]byte, error) {
	if resp.Flags()&flagCompressed == 0 {
		return resp.Value, nil
	}
	return c.compressor.Decompress(resp.Value)
}

func (c *Client) noteAcquireError(err error) {
	if errors.Is(err, pool.ErrAcquireTimeout) {
		c.metrics.PoolTimeoutsTotal.Inc()
	}
}

func (c *Client) failAll(keys []string, err error) map[string]error {
	errs := make(map[string]error, len(keys))
	for _, key := range keys {
		errs[key] = err
	}
	return errs
}

func mergeErrors(dst, src map[string]error) map[string]error {
	for key, err := range src {
		dst[key] = err
	}
	return dst
}

func (c *Client) logFailures(op string, failures map[string]error) {
	for key, err := range failures {
		logrus.WithFields(logrus.Fields{
			"op":  op,
			"key": key,
		}).WithError(err).Warn("cache operation failed")
	}
}
