package main

import (
	"context"
	"fmt"
	"log"

	"github.com/memring/memring/pkg/client"
	"github.com/memring/memring/pkg/config"
)

func main() {
	cfg := config.LoadClientConfig()

	c, err := client.NewWithConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		log.Fatalf("Cluster unreachable: %v", err)
	}
	fmt.Printf("Connected to %d node(s)\n", len(cfg.Nodes))

	// Single-key operations
	fmt.Println("=== Single-Key Operations ===")

	if err := c.Set(ctx, "greeting", []byte("Hello, memring!"), 300); err != nil {
		log.Fatal(err)
	}

	if value, found, err := c.Get(ctx, "greeting"); err != nil {
		log.Printf("Error: %v", err)
	} else if found {
		fmt.Printf("greeting = %s\n", value)
	}

	if _, found, _ := c.Get(ctx, "no-such-key"); !found {
		fmt.Println("no-such-key is absent (miss, not an error)")
	}

	if err := c.Delete(ctx, "greeting"); err != nil {
		log.Printf("Error: %v", err)
	}

	// Multi-key operations: partitioned by node, pipelined per node
	fmt.Println("\n=== Multi-Key Operations ===")

	items := map[string][]byte{
		"user:1": []byte("alice"),
		"user:2": []byte("bob"),
		"user:3": []byte("carol"),
	}
	if failures, err := c.MultiSet(ctx, items, 300); err != nil {
		log.Fatal(err)
	} else if len(failures) > 0 {
		fmt.Printf("Partial failure: %v\n", failures)
	}

	keys := []string{"user:1", "user:2", "user:3", "user:999"}
	values, failures, err := c.MultiGet(ctx, keys)
	if err != nil {
		log.Fatal(err)
	}
	for key, value := range values {
		fmt.Printf("%s = %s\n", key, value)
	}
	fmt.Printf("%d of %d keys found, %d failed\n", len(values), len(keys), len(failures))

	if _, err := c.MultiDelete(ctx, []string{"user:1", "user:2", "user:3"}); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Cleaned up")
}
