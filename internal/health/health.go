package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const (
	stateConnected     = "connected"
	stateDisconnected  = "disconnected"
	stateNotConfigured = "not configured"
)

// Status 健康状态
type Status struct {
	Service     string `json:"service"`
	Database    string `json:"database"`
	Redis       string `json:"redis"`
	NATS        string `json:"nats"`
	Connections int    `json:"connections"`
}

// Ready 所有已配置的依赖都可用
func (s *Status) Ready() bool {
	for _, state := range []string{s.Database, s.Redis, s.NATS} {
		if state == stateDisconnected {
			return false
		}
	}
	return true
}

// ConnectionCounter 连接计数器接口
type ConnectionCounter interface {
	Count() int
}

// Checker 健康检查器，未配置的依赖传 nil
type Checker struct {
	service     string
	db          *pgxpool.Pool
	redisClient *redis.Client
	nc          *nats.Conn
	connCounter ConnectionCounter
}

// NewChecker 创建健康检查器
func NewChecker(service string, db *pgxpool.Pool, redisClient *redis.Client, nc *nats.Conn, connCounter ConnectionCounter) *Checker {
	return &Checker{
		service:     service,
		db:          db,
		redisClient: redisClient,
		nc:          nc,
		connCounter: connCounter,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		Service:  h.service,
		Database: stateNotConfigured,
		Redis:    stateNotConfigured,
		NATS:     stateNotConfigured,
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// 检查数据库
	if h.db != nil {
		status.Database = pingState(h.db.Ping(ctx))
	}

	// 检查 Redis
	if h.redisClient != nil {
		status.Redis = pingState(h.redisClient.Ping(ctx).Err())
	}

	// 检查 NATS
	if h.nc != nil {
		if h.nc.IsConnected() {
			status.NATS = stateConnected
		} else {
			status.NATS = stateDisconnected
		}
	}

	// 连接数
	if h.connCounter != nil {
		status.Connections = h.connCounter.Count()
	}

	return status
}

// Live 存活探针，进程能响应即可
func (h *Checker) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"service": h.service, "status": "ok"})
}

// Ready 就绪探针，依赖不可用时返回 503
func (h *Checker) Ready(c *gin.Context) {
	status := h.Check(c.Request.Context())
	code := http.StatusOK
	if !status.Ready() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func pingState(err error) string {
	if err != nil {
		return stateDisconnected
	}
	return stateConnected
}
