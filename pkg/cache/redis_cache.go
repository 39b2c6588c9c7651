package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache 权限闭包缓存实现
//
// 角色/权限读取频繁，闭包计算涉及继承图遍历，因此用Redis做短TTL缓存。
// 角色或权限发生变更时必须调用InvalidateClosures做显式失效（无推送失效机制）。
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Config Redis缓存配置
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedisCache 创建Redis缓存实例
func NewRedisCache(config *Config) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	prefix := config.Prefix
	if prefix == "" {
		prefix = "epp:cache"
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Close 关闭Redis连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping 测试Redis连接
func (c *RedisCache) Ping() error {
	ctx := context.Background()
	return c.client.Ping(ctx).Err()
}

// closureKey 角色闭包缓存键
func (c *RedisCache) closureKey(roleID uint) string {
	return fmt.Sprintf("%s:closure:%d", c.prefix, roleID)
}

// GetClosure 读取角色权限闭包缓存，未命中返回(nil, false)
func (c *RedisCache) GetClosure(roleID uint) ([]uint, bool) {
	ctx := context.Background()

	data, err := c.client.Get(ctx, c.closureKey(roleID)).Bytes()
	if err != nil {
		// redis.Nil和连接错误统一按未命中处理，降级为直接查库
		return nil, false
	}

	var ids []uint
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false
	}
	return ids, true
}

// SetClosure 写入角色权限闭包缓存（带TTL）
func (c *RedisCache) SetClosure(roleID uint, permissionIDs []uint) error {
	ctx := context.Background()

	data, err := json.Marshal(permissionIDs)
	if err != nil {
		return fmt.Errorf("序列化闭包数据失败: %v", err)
	}

	return c.client.Set(ctx, c.closureKey(roleID), data, c.ttl).Err()
}

// InvalidateClosures 失效所有角色闭包缓存
//
// 角色继承边、角色权限分配或权限记录变更后调用。闭包跨角色传递，
// 单点变更可能影响任意上游角色，因此整体失效而非逐键失效。
func (c *RedisCache) InvalidateClosures() error {
	ctx := context.Background()

	pattern := fmt.Sprintf("%s:closure:*", c.prefix)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("删除缓存键失败: %v", err)
		}
	}
	return iter.Err()
}
