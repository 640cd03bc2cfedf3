// Package config provides configuration for the memring client and the
// development cache server.
//
// Values are resolved with the following precedence:
//  1. Programmatic configuration (highest priority)
//  2. Environment variables
//  3. Default values (lowest priority)
//
// Environment variables are prefixed with "MEMRING_" and use uppercase
// names, e.g. MEMRING_NODES=cache1:11211,cache2:11211.
//
// Example:
//
//	cfg := config.LoadClientConfig()
//	cfg.Nodes = []string{"cache1:11211", "cache2:11211"}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Default client configuration constants.
const (
	DefaultMaxConnsPerNode      = 10
	DefaultConnTimeoutSecs      = 5
	DefaultAcquireTimeoutSecs   = 5
	DefaultIOTimeoutSecs        = 30
	DefaultRingReplicas         = 100
	DefaultCompressionThreshold = 128
	DefaultServerPort           = 11211
)

// Compression strategy names accepted by ClientConfig.Compression.
const (
	CompressionZlib = "zlib"
	CompressionNone = "none"
)

// ClientConfig holds all configuration for a memring client: cluster
// membership, per-node pooling, timeouts, hashing and compression.
//
// Example:
//
//	cfg := &config.ClientConfig{
//		Nodes:           []string{"cache1:11211", "cache2:11211"},
//		MaxConnsPerNode: 20,
//		RingReplicas:    150,
//		Compression:     config.CompressionZlib,
//	}
type ClientConfig struct {
	Nodes                []string // cache server addresses, host:port (at least one required)
	MaxConnsPerNode      int      // connection pool size per node (default: 10)
	ConnTimeout          int      // dial timeout in seconds (default: 5)
	AcquireTimeout       int      // pool acquire timeout in seconds (default: 5)
	IOTimeout            int      // per-request send/receive timeout in seconds (default: 30)
	RingReplicas         int      // ring positions per node (default: 100)
	Compression          string   // "zlib" or "none" (default: "zlib")
	CompressionLevel     int      // zlib level, 0 selects the library default
	CompressionThreshold int      // smallest value size compressed, in bytes (default: 128)
}

// LoadClientConfig creates a ClientConfig from environment variables
// and defaults.
//
// Environment variables:
//
//	MEMRING_NODES: comma-separated server addresses
//	MEMRING_MAX_CONNS_PER_NODE: pool size per node
//	MEMRING_CONN_TIMEOUT: dial timeout in seconds
//	MEMRING_ACQUIRE_TIMEOUT: pool acquire timeout in seconds
//	MEMRING_IO_TIMEOUT: request I/O timeout in seconds
//	MEMRING_RING_REPLICAS: ring positions per node
//	MEMRING_COMPRESSION: "zlib" or "none"
//	MEMRING_COMPRESSION_THRESHOLD: minimum value size to compress
func LoadClientConfig() *ClientConfig {
	cfg := &ClientConfig{
		Nodes:                []string{"localhost:11211"},
		MaxConnsPerNode:      DefaultMaxConnsPerNode,
		ConnTimeout:          DefaultConnTimeoutSecs,
		AcquireTimeout:       DefaultAcquireTimeoutSecs,
		IOTimeout:            DefaultIOTimeoutSecs,
		RingReplicas:         DefaultRingReplicas,
		Compression:          CompressionZlib,
		CompressionThreshold: DefaultCompressionThreshold,
	}

	if nodes := os.Getenv("MEMRING_NODES"); nodes != "" {
		cfg.Nodes = strings.Split(nodes, ",")
		for i, node := range cfg.Nodes {
			cfg.Nodes[i] = strings.TrimSpace(node)
		}
	}

	envInt("MEMRING_MAX_CONNS_PER_NODE", &cfg.MaxConnsPerNode)
	envInt("MEMRING_CONN_TIMEOUT", &cfg.ConnTimeout)
	envInt("MEMRING_ACQUIRE_TIMEOUT", &cfg.AcquireTimeout)
	envInt("MEMRING_IO_TIMEOUT", &cfg.IOTimeout)
	envInt("MEMRING_RING_REPLICAS", &cfg.RingReplicas)
	envInt("MEMRING_COMPRESSION_THRESHOLD", &cfg.CompressionThreshold)

	if compression := os.Getenv("MEMRING_COMPRESSION"); compression != "" {
		cfg.Compression = compression
	}

	return cfg
}

func envInt(name string, dst *int) {
	if value := os.Getenv(name); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			*dst = v
		}
	}
}

// Validate checks the ClientConfig. Validation failures are
// configuration errors: they are raised here, at construction time,
// never mid-operation.
//
// Rules:
//   - at least one node, each in "host:port" form
//   - MaxConnsPerNode, AcquireTimeout, ConnTimeout, IOTimeout positive
//   - RingReplicas positive
//   - Compression one of "zlib", "none"
//   - CompressionThreshold non-negative
func (c *ClientConfig) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node must be specified")
	}
	for _, node := range c.Nodes {
		if node == "" {
			return fmt.Errorf("empty node address")
		}
		if !strings.Contains(node, ":") {
			return fmt.Errorf("invalid node address format: %s", node)
		}
	}

	if c.MaxConnsPerNode < 1 {
		return fmt.Errorf("max connections per node must be positive: %d", c.MaxConnsPerNode)
	}
	if c.ConnTimeout < 1 {
		return fmt.Errorf("connection timeout must be positive: %d", c.ConnTimeout)
	}
	if c.AcquireTimeout < 1 {
		return fmt.Errorf("acquire timeout must be positive: %d", c.AcquireTimeout)
	}
	if c.IOTimeout < 1 {
		return fmt.Errorf("io timeout must be positive: %d", c.IOTimeout)
	}
	if c.RingReplicas < 1 {
		return fmt.Errorf("ring replicas must be positive: %d", c.RingReplicas)
	}
	if c.Compression != CompressionZlib && c.Compression != CompressionNone {
		return fmt.Errorf("invalid compression strategy: %s", c.Compression)
	}
	if c.CompressionThreshold < 0 {
		return fmt.Errorf("compression threshold must be non-negative: %d", c.CompressionThreshold)
	}

	return nil
}

// ServerConfig holds configuration for the development cache server.
type ServerConfig struct {
	Host string // address to bind to (default: "0.0.0.0")
	Port int    // TCP port to listen on (default: 11211)
}

// LoadServerConfig creates a ServerConfig from command-line flags and
// environment variables.
//
// Flags: -port, -host. Environment: MEMRING_PORT, MEMRING_HOST.
func LoadServerConfig() *ServerConfig {
	cfg := &ServerConfig{
		Host: "0.0.0.0",
		Port: DefaultServerPort,
	}

	flag.IntVar(&cfg.Port, "port", cfg.Port, "Server port")
	flag.StringVar(&cfg.Host, "host", cfg.Host, "Server host")
	flag.Parse()

	if port := os.Getenv("MEMRING_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if host := os.Getenv("MEMRING_HOST"); host != "" {
		cfg.Host = host
	}

	return cfg
}

// Address returns the host:port string the server binds to.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the ServerConfig.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}
