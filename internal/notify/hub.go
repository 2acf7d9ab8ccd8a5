// Package notify fans connection events out to a user's open dashboard
// sockets. The hub owns all state on a single goroutine fed by a command
// channel, so no mutex guards the client maps.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/metrics"
)

const maxClientsPerUser = 16

type hubCmd interface{ hubCmd() }

type cmdRegister struct {
	userID uuid.UUID
	conn   *websocket.Conn
	errCh  chan error
}

func (cmdRegister) hubCmd() {}

type cmdUnregister struct {
	userID uuid.UUID
	conn   *websocket.Conn
}

func (cmdUnregister) hubCmd() {}

type cmdBroadcast struct {
	userID uuid.UUID
	data   []byte
}

func (cmdBroadcast) hubCmd() {}

type cmdClientCount struct {
	userID  uuid.UUID
	replyCh chan int
}

func (cmdClientCount) hubCmd() {}

type cmdStop struct{}

func (cmdStop) hubCmd() {}

// clientWriter serializes writes to one socket so the hub never blocks on a
// slow client.
type clientWriter struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
}

func newClientWriter(conn *websocket.Conn) *clientWriter {
	cw := &clientWriter{
		conn:   conn,
		sendCh: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	for {
		select {
		case msg, ok := <-cw.sendCh:
			if !ok {
				return
			}
			cw.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-cw.done:
			return
		}
	}
}

func (cw *clientWriter) stop() {
	close(cw.done)
	cw.conn.Close()
}

// ErrHubStopped is returned when a socket registers after shutdown.
var ErrHubStopped = errors.New("notify hub stopped")

// Hub routes messages to the sockets of a single user.
type Hub struct {
	cmdCh   chan hubCmd
	stopped chan struct{}
	clients map[uuid.UUID]map[*websocket.Conn]*clientWriter
}

func NewHub() *Hub {
	hub := &Hub{
		cmdCh:   make(chan hubCmd, 256),
		stopped: make(chan struct{}),
		clients: make(map[uuid.UUID]map[*websocket.Conn]*clientWriter),
	}
	go hub.run()
	return hub
}

func (h *Hub) run() {
	defer close(h.stopped)
	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case cmdRegister:
			h.handleRegister(c)
		case cmdUnregister:
			h.handleUnregister(c.userID, c.conn)
		case cmdBroadcast:
			for _, cw := range h.clients[c.userID] {
				select {
				case cw.sendCh <- c.data:
				default:
					// Writer backlog full, drop rather than stall the hub.
				}
			}
		case cmdClientCount:
			c.replyCh <- len(h.clients[c.userID])
		case cmdStop:
			for _, conns := range h.clients {
				for _, cw := range conns {
					cw.stop()
				}
			}
			h.clients = make(map[uuid.UUID]map[*websocket.Conn]*clientWriter)
			return
		}
	}
}

func (h *Hub) handleRegister(c cmdRegister) {
	conns := h.clients[c.userID]
	if len(conns) >= maxClientsPerUser {
		c.errCh <- fmt.Errorf("too many connections for user %s", c.userID)
		return
	}

	if conns == nil {
		conns = make(map[*websocket.Conn]*clientWriter)
		h.clients[c.userID] = conns
	}
	conns[c.conn] = newClientWriter(c.conn)
	metrics.WebsocketConnections.Inc()
	c.errCh <- nil
}

func (h *Hub) handleUnregister(userID uuid.UUID, conn *websocket.Conn) {
	conns, ok := h.clients[userID]
	if !ok {
		return
	}
	cw, ok := conns[conn]
	if !ok {
		return
	}

	cw.stop()
	delete(conns, conn)
	metrics.WebsocketConnections.Dec()
	if len(conns) == 0 {
		delete(h.clients, userID)
	}
}

// Register attaches a socket to the user's fan-out set. It fails with
// ErrHubStopped once the hub has shut down.
func (h *Hub) Register(userID uuid.UUID, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	select {
	case h.cmdCh <- cmdRegister{userID: userID, conn: conn, errCh: errCh}:
	case <-h.stopped:
		return ErrHubStopped
	}
	select {
	case err := <-errCh:
		return err
	case <-h.stopped:
		return ErrHubStopped
	}
}

// Unregister detaches a socket and closes it.
func (h *Hub) Unregister(userID uuid.UUID, conn *websocket.Conn) {
	select {
	case h.cmdCh <- cmdUnregister{userID: userID, conn: conn}:
	case <-h.stopped:
	}
}

// Broadcast sends v as JSON to every socket the user has open. After
// shutdown the message is dropped.
func (h *Hub) Broadcast(userID uuid.UUID, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal broadcast payload", "error", err)
		return
	}
	select {
	case h.cmdCh <- cmdBroadcast{userID: userID, data: data}:
	case <-h.stopped:
	}
}

// ClientCount reports how many sockets the user has attached.
func (h *Hub) ClientCount(userID uuid.UUID) int {
	replyCh := make(chan int, 1)
	select {
	case h.cmdCh <- cmdClientCount{userID: userID, replyCh: replyCh}:
	case <-h.stopped:
		return 0
	}
	select {
	case n := <-replyCh:
		return n
	case <-h.stopped:
		return 0
	}
}

// Stop closes every socket and shuts the hub down. Safe to call more than
// once.
func (h *Hub) Stop() {
	select {
	case h.cmdCh <- cmdStop{}:
	case <-h.stopped:
		return
	}
	<-h.stopped
}
