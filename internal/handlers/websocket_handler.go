package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"epp/internal/services"
	"epp/pkg/config"
	"epp/pkg/jwt"
	"epp/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// NotificationHub 审批事件WebSocket推送中心
//
// 按用户ID维护连接集合，审批引擎通过Notifier接口把事件推给在线的
// 审批人和提交人。离线用户直接跳过，事件不落盘不重放。
type NotificationHub struct {
	upgrader   websocket.Upgrader
	jwtManager *jwt.JWTManager
	log        *logrus.Logger

	mu      sync.RWMutex
	clients map[uint]map[*wsClient]bool
}

// wsClient 单个WebSocket连接
//
// gorilla的连接不允许并发写（审批请求和定时提醒可能同时推同一用户），
// 每条连接用独立互斥锁串行化写操作。
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// send 推送一条事件，写超时10秒
func (c *wsClient) send(event *services.ApprovalEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(event)
}

// NewNotificationHub 创建推送中心
func NewNotificationHub() *NotificationHub {
	cfg := config.GetConfig()
	allowedOrigins := cfg.CORS.AllowOrigins

	return &NotificationHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")

				for _, allowed := range allowedOrigins {
					if allowed == "*" {
						return true
					}
				}

				// Origin为空视为同源请求
				if origin == "" {
					return true
				}

				for _, allowed := range allowedOrigins {
					if matchOrigin(origin, allowed) {
						return true
					}
				}

				logger.GetLogger().Warnf("WebSocket连接被拒绝，非法Origin: %s", origin)
				return false
			},
			ReadBufferSize:  1024 * 4,
			WriteBufferSize: 1024 * 4,
		},
		jwtManager: jwt.GetJWTManager(),
		log:        logger.GetLogger(),
		clients:    make(map[uint]map[*wsClient]bool),
	}
}

// Subscribe 建立审批通知的WebSocket连接
func (h *NotificationHub) Subscribe(c *gin.Context) {
	// WebSocket不支持自定义header，token走查询参数
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少认证令牌"})
		return
	}

	claims, err := h.jwtManager.VerifyToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的令牌"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Errorf("WebSocket升级失败: %v", err)
		return
	}

	client := &wsClient{conn: conn}
	h.register(claims.UserID, client)
	h.log.WithFields(logrus.Fields{
		"user_id":  claims.UserID,
		"username": claims.Username,
	}).Info("审批通知WebSocket已连接")

	// 读循环只用于感知客户端断开
	go func() {
		defer h.unregister(claims.UserID, client)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// NotifyUsers 向指定用户推送审批事件（实现services.Notifier）
func (h *NotificationHub) NotifyUsers(userIDs []uint, event *services.ApprovalEvent) {
	if event == nil {
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0)
	for _, userID := range userIDs {
		for client := range h.clients[userID] {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.send(event); err != nil {
			h.log.Warnf("审批事件推送失败: %v", err)
			client.conn.Close()
		}
	}
}

func (h *NotificationHub) register(userID uint, client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*wsClient]bool)
	}
	h.clients[userID][client] = true
}

func (h *NotificationHub) unregister(userID uint, client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[userID], client)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
	client.conn.Close()
}

// matchOrigin 检查origin是否匹配allowed模式
// 支持精确匹配和通配符匹配（如 *.example.com）
func matchOrigin(origin, allowed string) bool {
	if origin == allowed {
		return true
	}

	if strings.HasPrefix(allowed, "*.") {
		domain := allowed[2:]

		originHost := origin
		if idx := strings.Index(origin, "://"); idx != -1 {
			originHost = origin[idx+3:]
		}
		if idx := strings.Index(originHost, ":"); idx != -1 {
			originHost = originHost[:idx]
		}

		return strings.HasSuffix(originHost, "."+domain) || originHost == domain
	}

	return false
}
