// Package telemetrycache provides a Redis-backed, read-through cache for
// telemetry-collaborator CPU-utilization series, so repeated planning
// passes over the same hypervisor or VM within a short window don't each
// pay the collaborator's round trip.
package telemetrycache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Sample is one CPU-utilization reading: (timestamp, interval, value%).
type Sample struct {
	Timestamp       int64   `json:"timestamp"`
	IntervalSeconds int     `json:"interval_seconds"`
	ValuePercent    float64 `json:"value_percent"`
}

// FetchFunc retrieves a fresh series from the telemetry collaborator on a
// cache miss.
type FetchFunc func(ctx context.Context) ([]Sample, error)

// Cache wraps a Redis client with a fixed TTL for telemetry entries.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New returns a Cache bound to a Redis instance at addr/db, holding
// entries for ttl before they expire.
func New(addr string, db int, ttl time.Duration) *Cache {
	return &Cache{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		ttl:    ttl,
	}
}

// Close releases the underlying Redis connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

func hypervisorKey(hostName string) string {
	return "HYPERVISOR_CPU|" + hostName
}

func vmKey(vmName string) string {
	return "VM_CPU|" + vmName
}

func (c *Cache) readThrough(ctx context.Context, key string, fetch FetchFunc) ([]Sample, error) {
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		var samples []Sample
		if jsonErr := json.Unmarshal([]byte(raw), &samples); jsonErr == nil {
			return samples, nil
		}
		// A corrupt cache entry is treated as a miss, not a fatal error.
	} else if err != redis.Nil {
		return nil, fmt.Errorf("telemetrycache: reading %s: %w", key, err)
	}

	samples, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(samples)
	if err != nil {
		return nil, fmt.Errorf("telemetrycache: encoding %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return nil, fmt.Errorf("telemetrycache: writing %s: %w", key, err)
	}
	return samples, nil
}

// HypervisorCPU returns hostName's cached CPU-utilization series, fetching
// and caching it if absent or expired.
func (c *Cache) HypervisorCPU(ctx context.Context, hostName string, fetch FetchFunc) ([]Sample, error) {
	return c.readThrough(ctx, hypervisorKey(hostName), fetch)
}

// VMCPU returns vmName's cached CPU-utilization series, fetching and
// caching it if absent or expired.
func (c *Cache) VMCPU(ctx context.Context, vmName string, fetch FetchFunc) ([]Sample, error) {
	return c.readThrough(ctx, vmKey(vmName), fetch)
}

// InvalidateHypervisor drops a hypervisor's cached series, forcing the
// next read to go to the collaborator.
func (c *Cache) InvalidateHypervisor(ctx context.Context, hostName string) error {
	return c.client.Del(ctx, hypervisorKey(hostName)).Err()
}

// InvalidateVM drops a VM's cached series, forcing the next read to go to
// the collaborator.
func (c *Cache) InvalidateVM(ctx context.Context, vmName string) error {
	return c.client.Del(ctx, vmKey(vmName)).Err()
}
