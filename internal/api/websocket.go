// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/ChapterForge/internal/logger"
	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 生产环境应校验Origin
		return true
	},
}

// WebSocketConnection 定义 WebSocket 连接的接口，便于测试替身
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient 表示一个订阅小说事件流的客户端连接
type WebSocketClient struct {
	conn      WebSocketConnection
	novelID   string
	clientID  string
	send      chan []byte
	closed    int32     // 原子标志，0=开启，1=关闭
	lastPing  time.Time // 最后一次ping时间
	createdAt time.Time // 连接建立时间
}

// WebSocketManager 管理所有 WebSocket 连接，按小说分组
type WebSocketManager struct {
	connections   map[string]map[WebSocketConnection]*WebSocketClient // novelID -> connections
	register      chan *WebSocketClient
	unregister    chan *WebSocketClient
	cleanup       chan bool
	mutex         sync.RWMutex
	pingTimeout   time.Duration
	cleanupTicker *time.Ticker
}

// 全局 WebSocket 管理器
var wsManager = &WebSocketManager{
	connections: make(map[string]map[WebSocketConnection]*WebSocketClient),
	register:    make(chan *WebSocketClient, 256),
	unregister:  make(chan *WebSocketClient, 256),
	cleanup:     make(chan bool, 1),
	pingTimeout: 60 * time.Second,
}

func init() {
	go wsManager.run()
}

// ========================================
// WebSocketClient 方法
// ========================================

// Close 安全关闭客户端连接。
// send通道由写协程的defer负责关闭，这里只置关闭标志
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后ping时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing = time.Now()
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(client.lastPing) > timeout
}

// SendMessage 安全发送消息到客户端，队列满时丢弃而非阻塞
func (client *WebSocketClient) SendMessage(message interface{}) error {
	if client.IsClosed() {
		return nil
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	if client.IsClosed() {
		return nil
	}

	select {
	case client.send <- msgBytes:
		return nil
	default:
		logger.GetLogger().Warn("WebSocket消息队列已满，消息被丢弃", map[string]interface{}{
			"novel_id":  client.novelID,
			"client_id": client.clientID,
		})
		return nil
	}
}

// ========================================
// WebSocketManager 方法
// ========================================

// run 运行 WebSocket 管理器主循环
func (manager *WebSocketManager) run() {
	manager.cleanupTicker = time.NewTicker(30 * time.Second)
	defer manager.cleanupTicker.Stop()

	for {
		select {
		case client := <-manager.register:
			manager.registerClient(client)

		case client := <-manager.unregister:
			manager.unregisterClient(client)

		case <-manager.cleanupTicker.C:
			manager.cleanupExpiredConnections()

		case <-manager.cleanup:
			manager.shutdown()
			return
		}
	}
}

// registerClient 注册新客户端
func (manager *WebSocketManager) registerClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.novelID] == nil {
		manager.connections[client.novelID] = make(map[WebSocketConnection]*WebSocketClient)
	}

	manager.connections[client.novelID][client.conn] = client
	client.UpdatePing()

	logger.GetLogger().Info("WebSocket客户端已连接", map[string]interface{}{
		"novel_id":  client.novelID,
		"client_id": client.clientID,
	})
}

// unregisterClient 安全注销客户端
func (manager *WebSocketManager) unregisterClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if connections, exists := manager.connections[client.novelID]; exists {
		delete(connections, client.conn)

		if len(connections) == 0 {
			delete(manager.connections, client.novelID)
		}
	}

	if !client.IsClosed() {
		client.Close()
	}

	logger.GetLogger().Info("WebSocket客户端已断开", map[string]interface{}{
		"novel_id":  client.novelID,
		"client_id": client.clientID,
	})
}

// cleanupExpiredConnections 清理过期和死连接
func (manager *WebSocketManager) cleanupExpiredConnections() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for novelID, connections := range manager.connections {
		for conn, client := range connections {
			if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
				delete(connections, conn)
				if !client.IsClosed() {
					client.Close()
				}
			}
		}
		if len(connections) == 0 {
			delete(manager.connections, novelID)
		}
	}
}

// BroadcastToNovel 向订阅指定小说的所有客户端推送生成事件
func (manager *WebSocketManager) BroadcastToNovel(novelID string, event models.GenerationEvent) {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		logger.GetLogger().Error("序列化生成事件失败", map[string]interface{}{
			"novel_id": novelID,
			"error":    err.Error(),
		})
		return
	}

	manager.mutex.RLock()
	connections, exists := manager.connections[novelID]
	if !exists {
		manager.mutex.RUnlock()
		return
	}

	clients := make([]*WebSocketClient, 0, len(connections))
	for _, client := range connections {
		if !client.IsClosed() {
			clients = append(clients, client)
		}
	}
	manager.mutex.RUnlock()

	manager.processBatch(clients, msgBytes)
}

// processBatch 批量发送消息，写不进去的连接转入注销流程
func (manager *WebSocketManager) processBatch(clients []*WebSocketClient, message []byte) {
	failedCount := 0
	for _, client := range clients {
		if client.IsClosed() {
			continue
		}

		select {
		case client.send <- message:
		default:
			failedCount++
			if failedCount <= 5 {
				go func(c *WebSocketClient) {
					c.Close()
					select {
					case manager.unregister <- c:
					case <-time.After(50 * time.Millisecond):
					}
				}(client)
			} else {
				client.Close()
			}
		}
	}
}

// shutdown 优雅关闭管理器
func (manager *WebSocketManager) shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for _, connections := range manager.connections {
		for _, client := range connections {
			client.Close()
		}
	}

	manager.connections = make(map[string]map[WebSocketConnection]*WebSocketClient)

	logger.GetLogger().Info("WebSocket管理器已关闭", nil)
}

// GetStatus 获取管理器状态（调试用）
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	novels := make(map[string]interface{})
	totalConnections := 0

	for novelID, connections := range manager.connections {
		activeConnections := 0
		clients := make([]interface{}, 0)

		for _, client := range connections {
			if client != nil && !client.IsClosed() {
				activeConnections++
				clients = append(clients, map[string]interface{}{
					"client_id":    client.clientID,
					"novel_id":     client.novelID,
					"connected_at": client.createdAt.Format(time.RFC3339),
					"last_ping":    client.lastPing.Format(time.RFC3339),
				})
			}
		}

		novels[novelID] = map[string]interface{}{
			"client_count": activeConnections,
			"clients":      clients,
		}
		totalConnections += activeConnections
	}

	return map[string]interface{}{
		"total_novels":      len(manager.connections),
		"total_connections": totalConnections,
		"novels":            novels,
	}
}

// ========================================
// 连接处理
// ========================================

// NovelWebSocket 处理小说事件流的 WebSocket 连接。
// 连接建立后客户端会收到该小说所有生成事件的实时推送
func (h *Handler) NovelWebSocket(c *gin.Context) {
	novelID := c.Param("id")
	if novelID == "" {
		http.Error(c.Writer, "小说ID缺失", http.StatusBadRequest)
		return
	}
	if _, err := h.NovelService.GetNovel(c.Request.Context(), novelID); err != nil {
		http.Error(c.Writer, "小说不存在", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.GetLogger().Warn("WebSocket升级失败", map[string]interface{}{
			"novel_id": novelID,
			"error":    err.Error(),
		})
		return
	}
	defer conn.Close()

	client := &WebSocketClient{
		conn:      &WebSocketConnWrapper{conn},
		novelID:   novelID,
		clientID:  c.DefaultQuery("client_id", "anonymous"),
		send:      make(chan []byte, 256),
		lastPing:  time.Now(),
		createdAt: time.Now(),
	}

	select {
	case wsManager.register <- client:
	default:
		logger.GetLogger().Warn("WebSocket注册通道已满，拒绝连接", map[string]interface{}{
			"novel_id": novelID,
		})
		return
	}

	defer func() {
		select {
		case wsManager.unregister <- client:
		case <-time.After(5 * time.Second):
		}
	}()

	go client.writePump()
	go client.readPump()

	client.SendMessage(map[string]interface{}{
		"type":      "connected",
		"novel_id":  novelID,
		"client_id": client.clientID,
		"timestamp": time.Now().Format(time.RFC3339),
		"message":   "事件流连接已建立",
	})

	<-c.Request.Context().Done()
}

// readPump 读取客户端消息。事件流是单向推送，
// 只响应ping消息，其余内容忽略
func (client *WebSocketClient) readPump() {
	defer func() {
		if !client.IsClosed() {
			select {
			case wsManager.unregister <- client:
			case <-time.After(1 * time.Second):
			}
		}
	}()

	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if client.IsClosed() {
			return
		}

		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.GetLogger().Debug("WebSocket读取结束", map[string]interface{}{
					"novel_id": client.novelID,
					"error":    err.Error(),
				})
			}
			return
		}

		client.UpdatePing()

		var message map[string]interface{}
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			continue
		}
		if msgType, ok := message["type"].(string); ok && msgType == "ping" {
			client.SendMessage(map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().Unix(),
			})
		}
	}
}

// writePump 把send队列写入连接并定期发送ping。
// send通道不关闭：写协程是唯一读者，退出后发送方按关闭标志跳过投递
func (client *WebSocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		atomic.StoreInt32(&client.closed, 1)
		client.conn.Close()
	}()

	for {
		select {
		case message := <-client.send:
			if client.IsClosed() {
				return
			}

			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if client.IsClosed() {
				return
			}

			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			client.UpdatePing()
		}
	}
}

// WebSocketConnWrapper 包装真实的 websocket.Conn 以实现接口
type WebSocketConnWrapper struct {
	*websocket.Conn
}
