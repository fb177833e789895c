package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sudooom.im.realtime/internal/config"
)

// typingKeyPrefix 正在输入状态
// Key: im:typing:{conversationId}, ZSET member=userId, score=过期时间毫秒
const typingKeyPrefix = "im:typing:"

// expireIfDue 仅当成员已过期时删除，避免误删刚刷新的状态
var expireIfDue = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) <= tonumber(ARGV[2]) then
  redis.call('ZREM', KEYS[1], ARGV[1])
  return 1
end
return 0
`)

// Client Redis 客户端
type Client struct {
	client *redis.Client
	logger *slog.Logger
}

// NewClient 创建 Redis 客户端
func NewClient(cfg config.RedisConfig, logger *slog.Logger) *Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	return &Client{
		client: client,
		logger: logger,
	}
}

// NewFromClient 包装已有的 go-redis 客户端
func NewFromClient(client *redis.Client, logger *slog.Logger) *Client {
	return &Client{client: client, logger: logger}
}

// BuildTypingKey 构建正在输入的 key
func BuildTypingKey(conversationID int64) string {
	return typingKeyPrefix + strconv.FormatInt(conversationID, 10)
}

// AddTyping 记录用户正在输入，返回是否为新加入
func (c *Client) AddTyping(ctx context.Context, conversationID, userID int64, expireAt time.Time) (bool, error) {
	key := BuildTypingKey(conversationID)
	member := strconv.FormatInt(userID, 10)

	var added *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.ZAdd(ctx, key, redis.Z{Score: float64(expireAt.UnixMilli()), Member: member})
		// key 本身也设置过期，会话长期无人输入时自动清理
		pipe.PExpireAt(ctx, key, expireAt.Add(time.Minute))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("add typing: %w", err)
	}

	c.logger.Debug("Typing refreshed",
		"conversation_id", conversationID,
		"user_id", userID)
	return added.Val() > 0, nil
}

// RemoveTyping 移除用户的正在输入状态
func (c *Client) RemoveTyping(ctx context.Context, conversationID, userID int64) (bool, error) {
	n, err := c.client.ZRem(ctx, BuildTypingKey(conversationID), strconv.FormatInt(userID, 10)).Result()
	if err != nil {
		return false, fmt.Errorf("remove typing: %w", err)
	}
	return n > 0, nil
}

// ExpireTyping 仅在状态已过期时移除
func (c *Client) ExpireTyping(ctx context.Context, conversationID, userID int64, now time.Time) (bool, error) {
	n, err := expireIfDue.Run(ctx, c.client,
		[]string{BuildTypingKey(conversationID)},
		strconv.FormatInt(userID, 10), now.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("expire typing: %w", err)
	}
	return n == 1, nil
}

// TypingUsers 返回未过期的正在输入用户，按过期时间升序
func (c *Client) TypingUsers(ctx context.Context, conversationID int64, now time.Time) ([]int64, error) {
	key := BuildTypingKey(conversationID)
	nowMs := strconv.FormatInt(now.UnixMilli(), 10)

	var members *redis.StringSliceCmd
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", nowMs)
		members = pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "(" + nowMs, Max: "+inf"})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list typing: %w", err)
	}

	ids := make([]int64, 0, len(members.Val()))
	for _, m := range members.Val() {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			c.logger.Warn("Invalid typing member", "key", key, "member", m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Raw 底层客户端
func (c *Client) Raw() *redis.Client {
	return c.client
}

// Ping 检查 Redis 连接
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.client.Close()
}
