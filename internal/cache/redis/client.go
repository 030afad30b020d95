// Package redis implements the lock manager and signal bus on go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// defaultKeyPrefix namespaces lock keys when none is configured.
const defaultKeyPrefix = "treasury:"

// ClientConfig holds connection parameters. Addr may list several
// comma-separated addresses for a cluster; MasterName selects sentinel mode.
type ClientConfig struct {
	Addr       string
	MasterName string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	KeyPrefix  string
}

// Client owns the connection shared by the lock manager and signal bus.
type Client struct {
	rdb    redis.UniversalClient
	prefix string
}

// New connects and pings. The concrete client (single node, cluster or
// sentinel) follows from the address list and MasterName.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.UniversalOptions{
		Addrs:      splitAddrs(cfg.Addr),
		MasterName: cfg.MasterName,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: "treasurybot",
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewUniversalClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Client{rdb: rdb, prefix: prefix}, nil
}

// Ping checks the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func splitAddrs(addr string) []string {
	var out []string
	for _, a := range strings.Split(addr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
