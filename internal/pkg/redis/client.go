// internal/pkg/redis/client.go
package redis

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// Client 封装 go-redis 客户端，并缓存预加载的 Lua 脚本
type Client struct {
	client  goredis.UniversalClient
	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

// NewClient 连接 redis 并做一次 PING
func NewClient(ctx context.Context, addr, password string, db int) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrapf(err, "ping redis at %s", addr)
	}
	return NewFromUniversal(rdb), nil
}

// NewFromUniversal 包装一个已有的客户端（集群或哨兵模式）
func NewFromUniversal(rdb goredis.UniversalClient) *Client {
	return &Client{client: rdb, scripts: make(map[string]*goredis.Script)}
}

func (c *Client) GetClient() goredis.UniversalClient {
	return c.client
}

// LoadScriptFromContent 注册一个脚本，首次 RunScript 时通过 EVALSHA 执行
func (c *Client) LoadScriptFromContent(name, content string) error {
	if content == "" {
		return errors.Errorf("script %s is empty", name)
	}
	c.mu.Lock()
	c.scripts[name] = goredis.NewScript(content)
	c.mu.Unlock()
	return nil
}

func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("script %s not loaded", name)
	}
	res, err := script.Run(ctx, c.client, keys, args...).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, errors.Wrapf(err, "run script %s", name)
	}
	return res, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
