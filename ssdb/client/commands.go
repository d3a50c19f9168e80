package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gallir/smart-ssdb/lib"
	"github.com/gallir/smart-ssdb/ssdb/cluster"
)

// Get returns the value of key, found is false if it doesn't exist
func (c *Client) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	resp, err := c.Send(ctx, "get", key)
	if err != nil {
		return nil, false, err
	}
	if resp.NotFound() {
		return nil, false, nil
	}
	return lib.UncompressBytes(resp.First()), true, nil
}

// Set stores the value, compressed if the client has a codec
func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	_, err := c.SendWrite(ctx, "set", key, lib.CompressBytes(value, c.compress))
	return err
}

// Setx is Set with a time to live, in whole seconds
func (c *Client) Setx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	secs := int64(ttl / time.Second)
	if secs <= 0 {
		return fmt.Errorf("ssdb: ttl must be at least a second, got %s", ttl)
	}
	_, err := c.SendWrite(ctx, "setx", key, lib.CompressBytes(value, c.compress), secs)
	return err
}

func (c *Client) Del(ctx context.Context, key string) error {
	_, err := c.SendWrite(ctx, "del", key)
	return err
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := c.Send(ctx, "exists", key)
	if err != nil {
		return false, err
	}
	v, _, err := resp.Int64()
	return v == 1, err
}

// Incr adds by to the integer stored in key and returns the new value
func (c *Client) Incr(ctx context.Context, key string, by int64) (int64, error) {
	resp, err := c.SendWrite(ctx, "incr", key, by)
	if err != nil {
		return 0, err
	}
	v, _, err := resp.Int64()
	return v, err
}

// MultiGet sends a multi_get per cluster, missing keys are not in the map
func (c *Client) MultiGet(ctx context.Context, keys ...string) (map[string][]byte, error) {
	groups, err := c.SplitKeys(keys...)
	if err != nil {
		return nil, err
	}

	values := make(map[string][]byte, len(keys))
	for _, group := range groups {
		args := make([]interface{}, 0, len(group)+1)
		args = append(args, "multi_get")
		for _, k := range group {
			args = append(args, k)
		}

		// Routed by the first key, all of them live in the same cluster
		resp, err := c.Send(ctx, args...)
		if err != nil {
			return nil, err
		}
		for _, kv := range resp.KeyValues() {
			values[kv.Key] = lib.UncompressBytes([]byte(kv.Value))
		}
	}
	return values, nil
}

// DBSize returns the size reported by the server, or the sum of every
// valid cluster if s is nil
func (c *Client) DBSize(ctx context.Context, s *cluster.Server) (int64, error) {
	if s != nil {
		resp, err := c.SendTo(ctx, s, "dbsize")
		if err != nil {
			return 0, err
		}
		v, _, err := resp.Int64()
		return v, err
	}

	responses, err := c.SendToAll(ctx, "dbsize")
	if err != nil {
		return 0, err
	}
	var total int64
	for id, resp := range responses {
		v, _, err := resp.Int64()
		if err != nil {
			return 0, fmt.Errorf("cluster %s: %w", id, err)
		}
		total += v
	}
	return total, nil
}

// Info returns the info pairs of a server
func (c *Client) Info(ctx context.Context, s *cluster.Server) (map[string]string, error) {
	if s == nil {
		return nil, errors.New("ssdb: info needs a server")
	}
	resp, err := c.SendTo(ctx, s, "info")
	if err != nil {
		return nil, err
	}
	return resp.Map(), nil
}
