package server

import (
	"chat-app/domain"
	"chat-app/services"
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const writeWait = 10 * time.Second

// Events sent to the client
const (
	eventInitial = "initial"
	eventMessage = "message"
	eventEnter   = "enter"
	eventExit    = "exit"
	eventError   = "error"
)

type socketEvent struct {
	Type     string        `json:"type"`
	Messages []messageJSON `json:"messages,omitempty"`
	Message  *messageJSON  `json:"message,omitempty"`
	UserName string        `json:"userName,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// socketCommand is what the client may send: {"type":"publish","text":"...","tags":[...]}.
type socketCommand struct {
	Type string `json:"type"`
	publishRequest
}

// createUpgrader creates a WebSocket upgrader with the given allowed origins
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedMap[origin]
		},
	}
}

// HandleWebSocket handles GET /channels/{id}/ws.
//
// The connection owns one channel service. The initial messages are written
// first, then every live message and presence event in delivery order. Only
// this goroutine writes to the connection.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("WebSocket upgrade error", "error", err)
		return
	}
	defer conn.Close()
	closeSocket := g.deps.Monitoring.SocketOpened()
	defer closeSocket()

	ctx, cancel := context.WithCancel(r.Context())
	outbound := make(chan socketEvent, g.options.SocketBufferSize)
	// Blocks the feed until written or the connection ends, so nothing is dropped
	push := func(evt socketEvent) {
		select {
		case outbound <- evt:
		case <-ctx.Done():
		}
	}

	service, err := g.openChannel(ctx, r, func(m domain.Message) {
		push(socketEvent{Type: eventMessage, Message: lo.ToPtr(toMessageJSON(m))})
	})
	if err != nil {
		cancel()
		g.log.Error("Opening channel failed", "error", err)
		_ = conn.WriteJSON(socketEvent{Type: eventError, Error: "failed to open channel"})
		return
	}
	userName := sessionFrom(r.Context()).GetUserName()
	defer func() {
		service.Exit(userName)
		// Unblock pending pushes before Cleanup waits for them
		cancel()
		service.Cleanup()
		g.log.Debug("WebSocket client disconnected", "user", userName)
	}()

	service.OnEnter(func(name string) { push(socketEvent{Type: eventEnter, UserName: name}) })
	service.OnExit(func(name string) { push(socketEvent{Type: eventExit, UserName: name}) })
	go g.readCommands(ctx, cancel, conn, r, service)
	service.Enter(userName)

	initial := socketEvent{Type: eventInitial, Messages: toMessagesJSON(service.GetInitialMessages(ctx))}
	if err = g.write(conn, initial); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-outbound:
			if err = g.write(conn, evt); err != nil {
				g.log.Debug("WebSocket write failed", "error", err)
				return
			}
			if evt.Type == eventMessage {
				g.deps.Monitoring.IncrLiveDeliveries()
			}
		}
	}
}

func (g *Gateway) write(conn *websocket.Conn, evt socketEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(evt)
}

// readCommands ends the connection on the first read error.
func (g *Gateway) readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn,
	r *http.Request, service services.IChannelService) {
	defer cancel()
	for {
		var cmd socketCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if cmd.Type != "publish" {
			continue
		}
		if err := g.validate.Struct(cmd.publishRequest); err != nil {
			g.log.Debug("Invalid publish command", "error", err)
			continue
		}
		service.Publish(ctx, g.publishCommand(r, cmd.publishRequest))
		g.deps.Monitoring.IncrMessagesPublished()
	}
}
