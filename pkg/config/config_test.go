package config

import "testing"

func TestClientConfigDefaults(t *testing.T) {
	cfg := LoadClientConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.MaxConnsPerNode != DefaultMaxConnsPerNode {
		t.Errorf("MaxConnsPerNode = %d, want %d", cfg.MaxConnsPerNode, DefaultMaxConnsPerNode)
	}
	if cfg.RingReplicas != DefaultRingReplicas {
		t.Errorf("RingReplicas = %d, want %d", cfg.RingReplicas, DefaultRingReplicas)
	}
	if cfg.Compression != CompressionZlib {
		t.Errorf("Compression = %q, want %q", cfg.Compression, CompressionZlib)
	}
}

func TestClientConfigEnvOverrides(t *testing.T) {
	t.Setenv("MEMRING_NODES", "cache1:11211, cache2:11211")
	t.Setenv("MEMRING_MAX_CONNS_PER_NODE", "42")
	t.Setenv("MEMRING_COMPRESSION", "none")

	cfg := LoadClientConfig()
	if len(cfg.Nodes) != 2 || cfg.Nodes[1] != "cache2:11211" {
		t.Errorf("Nodes = %v", cfg.Nodes)
	}
	if cfg.MaxConnsPerNode != 42 {
		t.Errorf("MaxConnsPerNode = %d, want 42", cfg.MaxConnsPerNode)
	}
	if cfg.Compression != CompressionNone {
		t.Errorf("Compression = %q, want none", cfg.Compression)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("config should validate: %v", err)
	}
}

func TestClientConfigValidate(t *testing.T) {
	base := func() *ClientConfig {
		cfg := LoadClientConfig()
		cfg.Nodes = []string{"cache1:11211"}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*ClientConfig)
	}{
		{"empty nodes", func(c *ClientConfig) { c.Nodes = nil }},
		{"empty address", func(c *ClientConfig) { c.Nodes = []string{""} }},
		{"missing port", func(c *ClientConfig) { c.Nodes = []string{"cache1"} }},
		{"zero pool size", func(c *ClientConfig) { c.MaxConnsPerNode = 0 }},
		{"zero acquire timeout", func(c *ClientConfig) { c.AcquireTimeout = 0 }},
		{"zero io timeout", func(c *ClientConfig) { c.IOTimeout = 0 }},
		{"zero replicas", func(c *ClientConfig) { c.RingReplicas = 0 }},
		{"bad compression", func(c *ClientConfig) { c.Compression = "snappy" }},
		{"negative threshold", func(c *ClientConfig) { c.CompressionThreshold = -1 }},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
