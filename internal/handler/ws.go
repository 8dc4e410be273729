package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/middleware"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/service"
	"github.com/capitalize-ai/agent-platform/internal/tools"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

// WebSocket message types.
const (
	wsTypeMessage      = "message"
	wsTypeListFiles    = "list_files"
	wsTypeFileUpload   = "file_upload"
	wsTypeFileDownload = "file_download"

	wsTypeAck  = "ack"
	wsTypeDone = "done"
)

// WSConfig tunes WebSocket connections.
type WSConfig struct {
	MaxMessageSize int64
	PongWait       time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// DefaultWSConfig returns the production settings.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		MaxMessageSize: 4 << 20,
		PongWait:       60 * time.Second,
		PingInterval:   45 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// inbound is a client message. Content carries the user text for message
// and the base64 file body for file_upload.
type inbound struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

// WSHandler serves the persistent chat connection of a thread.
type WSHandler struct {
	threads  *service.ThreadService
	chat     *service.ChatService
	sandbox  tools.Sandbox
	hub      *Hub
	cfg      WSConfig
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(threads *service.ThreadService, chat *service.ChatService, sandbox tools.Sandbox, hub *Hub, cfg WSConfig, log *logger.Logger) *WSHandler {
	return &WSHandler{
		threads: threads,
		chat:    chat,
		sandbox: sandbox,
		hub:     hub,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origins are enforced by the CORS middleware and the JWT.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

// Chat handles GET /ws/chat/{id}
func (h *WSHandler) Chat(w http.ResponseWriter, r *http.Request) {
	thread, ok := lookupThread(w, r, h.threads)
	if !ok {
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade WebSocket", zap.Error(err))
		return
	}

	conn := h.hub.Register(ws, thread.ID, middleware.GetUserID(r.Context()))
	log := logger.FromContext(r.Context()).With(zap.String("connection_id", conn.ID), zap.String("thread_id", thread.ID))

	// The request context is not tied to hijacked connections, so turns are
	// bound to the read loop instead.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	var turns sync.WaitGroup

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn, log)
	}()

	h.readPump(ctx, conn, thread, &turns, log)

	cancel()
	turns.Wait()
	h.hub.Unregister(conn)
	<-writerDone
}

func (h *WSHandler) readPump(ctx context.Context, conn *Connection, thread *model.Thread, turns *sync.WaitGroup, log *logger.Logger) {
	ws := conn.ws
	ws.SetReadLimit(h.cfg.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	var busy sync.Mutex
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.hub.SendJSON(conn, model.NewError("invalid JSON message"))
			continue
		}

		switch msg.Type {
		case wsTypeMessage, "":
			if err := middleware.ValidateMessageContent(msg.Content); err != nil {
				h.hub.SendJSON(conn, model.NewError(err.Error()))
				continue
			}
			if !busy.TryLock() {
				h.hub.SendJSON(conn, model.NewError("a turn is already running on this connection"))
				continue
			}
			turns.Add(1)
			go func() {
				defer turns.Done()
				defer busy.Unlock()
				h.runTurn(ctx, thread, msg.Content, log)
			}()
		case wsTypeListFiles:
			h.listFiles(ctx, conn, msg)
		case wsTypeFileUpload:
			h.uploadFile(ctx, conn, msg)
		case wsTypeFileDownload:
			h.downloadFile(ctx, conn, msg)
		default:
			h.hub.SendJSON(conn, model.NewError("unknown message type: "+msg.Type))
		}
	}
}

func (h *WSHandler) runTurn(ctx context.Context, thread *model.Thread, content string, log *logger.Logger) {
	h.hub.Broadcast(thread.ID, map[string]any{"type": wsTypeAck, "ts": time.Now().UTC()})

	count := 0
	for ev := range h.chat.RunTurn(ctx, thread, content) {
		if err := h.hub.Broadcast(thread.ID, ev); err != nil {
			log.Error("failed to encode event", zap.Error(err))
		}
		count++
	}

	h.hub.Broadcast(thread.ID, map[string]any{"type": wsTypeDone, "events": count, "ts": time.Now().UTC()})
	log.Debug("turn streamed", zap.Int("events", count))
}

func (h *WSHandler) writePump(conn *Connection, log *logger.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				conn.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug("failed to write message", zap.Error(err))
				// Unblock the reader so the connection is torn down.
				conn.ws.Close()
				for range conn.send {
				}
				return
			}

		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.ws.Close()
				for range conn.send {
				}
				return
			}
		}
	}
}

func (h *WSHandler) listFiles(ctx context.Context, conn *Connection, msg inbound) {
	dir := msg.Path
	if dir == "" {
		dir = "."
	}
	res := h.sandbox.ListFiles(ctx, dir, msg.Recursive)
	if !res.Success {
		h.hub.SendJSON(conn, map[string]any{"type": "list_files_error", "error": res.Error})
		return
	}
	h.hub.SendJSON(conn, map[string]any{
		"type":        "list_files_success",
		"folder_path": res.Path,
		"files":       res.Files,
		"count":       len(res.Files),
	})
}

func (h *WSHandler) uploadFile(ctx context.Context, conn *Connection, msg inbound) {
	if msg.Path == "" || msg.Content == "" {
		h.hub.SendJSON(conn, map[string]any{"type": "file_upload_error", "error": "missing file path or content"})
		return
	}
	body, err := base64.StdEncoding.DecodeString(msg.Content)
	if err != nil {
		h.hub.SendJSON(conn, map[string]any{"type": "file_upload_error", "error": "failed to decode file content: " + err.Error()})
		return
	}

	res := h.sandbox.WriteFile(ctx, msg.Path, string(body))
	if !res.Success {
		h.hub.SendJSON(conn, map[string]any{"type": "file_upload_error", "error": res.Error})
		return
	}
	h.hub.SendJSON(conn, map[string]any{
		"type":         "file_upload_success",
		"file_name":    path.Base(res.Path),
		"sandbox_path": res.Path,
		"size":         res.Size,
	})
}

func (h *WSHandler) downloadFile(ctx context.Context, conn *Connection, msg inbound) {
	if msg.Path == "" {
		h.hub.SendJSON(conn, map[string]any{"type": "file_download_error", "error": "missing file path"})
		return
	}

	res := h.sandbox.ReadFile(ctx, msg.Path)
	if !res.Success {
		h.hub.SendJSON(conn, map[string]any{"type": "file_download_error", "error": res.Error})
		return
	}
	h.hub.SendJSON(conn, map[string]any{
		"type":      "file_download_success",
		"file_path": res.Path,
		"file_name": path.Base(res.Path),
		"content":   base64.StdEncoding.EncodeToString([]byte(res.Content)),
		"size":      res.Size,
	})
}
