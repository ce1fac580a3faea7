package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"door-monitor/internal/hub"
	"door-monitor/internal/logger"
	"door-monitor/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	pongWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

type WebSocketHandler struct {
	Hub *hub.Hub
}

type clientMessage struct {
	Type string `json:"type"`
}

type serverMessage struct {
	Type string           `json:"type"`
	View *model.ViewModel `json:"view,omitempty"`
}

// ViewMessage encodes a view update as pushed to websocket clients.
func ViewMessage(vm model.ViewModel) ([]byte, error) {
	return json.Marshal(serverMessage{Type: "view", View: &vm})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsWriter serialises writes; the hub and the read loop both write.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

func (h *WebSocketHandler) Serve(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	w := &wsWriter{conn: ws}
	client := hub.NewClient(w)
	defer func() {
		h.Hub.Unregister(client)
		_ = ws.Close()
	}()
	if err := h.Hub.Register(client); err != nil {
		return
	}
	logger.Debugf("websocket client %s connected", client.ID)

	ws.SetReadLimit(64 * 1024)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pongWait * 9 / 10)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := w.ping(); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			logger.Debugf("websocket client %s gone: %v", client.ID, err)
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			out, _ := json.Marshal(serverMessage{Type: "pong"})
			_ = w.Write(out)
		}
	}
}
