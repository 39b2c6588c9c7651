package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"epp/internal/services"
	"epp/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *NotificationHub {
	return &NotificationHub{
		log:     logger.GetLogger(),
		clients: make(map[uint]map[*wsClient]bool),
	}
}

// newConnPair 建立一对真实的WebSocket连接（服务端侧、客户端侧）
func newConnPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("WebSocket升级失败: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-serverConns
	t.Cleanup(func() { serverConn.Close() })
	return serverConn, clientConn
}

func TestNotifyUsersDeliversEvent(t *testing.T) {
	serverConn, clientConn := newConnPair(t)

	hub := newTestHub()
	hub.register(7, &wsClient{conn: serverConn})

	hub.NotifyUsers([]uint{7, 99}, &services.ApprovalEvent{
		Event:        "submitted",
		InstanceID:   1,
		DocumentType: "purchase_order",
		DocumentID:   "PO-001",
		Level:        1,
	})

	clientConn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var event services.ApprovalEvent
	require.NoError(t, clientConn.ReadJSON(&event))
	assert.Equal(t, "submitted", event.Event)
	assert.Equal(t, "PO-001", event.DocumentID)

	// nil事件与离线用户都直接跳过
	hub.NotifyUsers([]uint{7}, nil)
	hub.NotifyUsers([]uint{42}, &services.ApprovalEvent{Event: "reminder"})
}

// 审批请求与定时提醒可能同时向同一连接推送，写操作必须按连接串行化
func TestNotifyUsersConcurrentWrites(t *testing.T) {
	serverConn, clientConn := newConnPair(t)

	hub := newTestHub()
	hub.register(7, &wsClient{conn: serverConn})

	const writers = 8
	const perWriter = 20

	received := make(chan services.ApprovalEvent, writers*perWriter)
	go func() {
		defer close(received)
		for {
			var event services.ApprovalEvent
			if err := clientConn.ReadJSON(&event); err != nil {
				return
			}
			received <- event
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				hub.NotifyUsers([]uint{7}, &services.ApprovalEvent{
					Event:      "reminder",
					InstanceID: 1,
				})
			}
		}()
	}
	wg.Wait()

	for i := 0; i < writers*perWriter; i++ {
		select {
		case event, ok := <-received:
			require.True(t, ok, "连接在收到全部事件前已断开")
			assert.Equal(t, "reminder", event.Event)
		case <-time.After(5 * time.Second):
			t.Fatalf("等待事件超时，只收到%d条", i)
		}
	}
}

func TestUnregisterClosesAndRemovesClient(t *testing.T) {
	serverConn, clientConn := newConnPair(t)

	hub := newTestHub()
	client := &wsClient{conn: serverConn}
	hub.register(7, client)
	hub.unregister(7, client)

	assert.Empty(t, hub.clients)

	// 服务端已关闭，客户端读取应失败
	clientConn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var event services.ApprovalEvent
	assert.Error(t, clientConn.ReadJSON(&event))
}
