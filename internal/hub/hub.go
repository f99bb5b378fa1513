// Package hub fans session state transitions out to websocket subscribers.
package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/tomato-check/internal/metrics"
	"github.com/example/tomato-check/internal/session"
)

const (
	maxClientsPerSession = 16
	writeTimeout         = 5 * time.Second
)

// ErrStopped is returned by Register once the hub has been stopped.
var ErrStopped = errors.New("hub stopped")

// Event is the message pushed to subscribers for every transition.
type Event struct {
	SessionID string        `json:"session_id"`
	From      session.State `json:"from"`
	To        session.State `json:"to"`
}

type hubCmd interface{ hubCmd() }

type cmdRegister struct {
	sessionID string
	conn      *websocket.Conn
	errCh     chan error
}

func (cmdRegister) hubCmd() {}

type cmdUnregister struct {
	sessionID string
	conn      *websocket.Conn
}

func (cmdUnregister) hubCmd() {}

type cmdBroadcast struct {
	sessionID string
	data      []byte
}

func (cmdBroadcast) hubCmd() {}

type cmdCloseSession struct {
	sessionID string
}

func (cmdCloseSession) hubCmd() {}

type cmdClientCount struct {
	sessionID string
	replyCh   chan int
}

func (cmdClientCount) hubCmd() {}

type cmdStop struct{}

func (cmdStop) hubCmd() {}

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
		case msg := <-cw.sendCh:
			_ = cw.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
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

// Hub owns all subscriber connections. A single goroutine mutates its state; the public methods
// send it commands.
type Hub struct {
	cmdCh   chan hubCmd
	stopped chan struct{}
	clients map[string]map[*websocket.Conn]*clientWriter
	logger  *zap.Logger
}

// New starts the hub goroutine. Call Stop to end it.
func New(logger *zap.Logger) *Hub {
	h := &Hub{
		cmdCh:   make(chan hubCmd, 256),
		stopped: make(chan struct{}),
		clients: make(map[string]map[*websocket.Conn]*clientWriter),
		logger:  logger.Named("hub"),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.stopped)
	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case cmdRegister:
			h.handleRegister(c)
		case cmdUnregister:
			h.handleUnregister(c.sessionID, c.conn)
		case cmdBroadcast:
			h.handleBroadcast(c)
		case cmdCloseSession:
			for conn := range h.clients[c.sessionID] {
				h.handleUnregister(c.sessionID, conn)
			}
		case cmdClientCount:
			c.replyCh <- len(h.clients[c.sessionID])
		case cmdStop:
			h.handleStop()
			return
		}
	}
}

func (h *Hub) handleRegister(c cmdRegister) {
	clients, exists := h.clients[c.sessionID]
	if !exists {
		clients = make(map[*websocket.Conn]*clientWriter)
		h.clients[c.sessionID] = clients
	}
	if len(clients) >= maxClientsPerSession {
		h.logger.Warn("rejecting subscriber, session full", zap.String("session_id", c.sessionID))
		c.conn.Close()
		c.errCh <- fmt.Errorf("max subscribers per session (%d) reached", maxClientsPerSession)
		return
	}
	clients[c.conn] = newClientWriter(c.conn)
	metrics.EventSubscribers.Inc()
	h.logger.Debug("subscriber registered", zap.String("session_id", c.sessionID), zap.Int("subscribers", len(clients)))
	c.errCh <- nil
}

func (h *Hub) handleUnregister(sessionID string, conn *websocket.Conn) {
	clients, exists := h.clients[sessionID]
	if !exists {
		return
	}
	cw, exists := clients[conn]
	if !exists {
		return
	}

	cw.stop()
	delete(clients, conn)
	metrics.EventSubscribers.Dec()
	if len(clients) == 0 {
		delete(h.clients, sessionID)
	}
}

func (h *Hub) handleBroadcast(c cmdBroadcast) {
	var slow []*websocket.Conn
	for conn, cw := range h.clients[c.sessionID] {
		select {
		case cw.sendCh <- c.data:
		default:
			slow = append(slow, conn)
		}
	}
	for _, conn := range slow {
		h.logger.Warn("disconnecting slow subscriber", zap.String("session_id", c.sessionID))
		h.handleUnregister(c.sessionID, conn)
	}
}

func (h *Hub) handleStop() {
	for sessionID, clients := range h.clients {
		for conn := range clients {
			h.handleUnregister(sessionID, conn)
		}
	}
}

func (h *Hub) send(cmd hubCmd) bool {
	select {
	case h.cmdCh <- cmd:
		return true
	case <-h.stopped:
		return false
	}
}

// Register subscribes conn to sessionID's events.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	if !h.send(cmdRegister{sessionID: sessionID, conn: conn, errCh: errCh}) {
		conn.Close()
		return ErrStopped
	}
	select {
	case err := <-errCh:
		return err
	case <-h.stopped:
		return ErrStopped
	}
}

// Unregister removes conn from sessionID's subscribers and closes it.
func (h *Hub) Unregister(sessionID string, conn *websocket.Conn) {
	h.send(cmdUnregister{sessionID: sessionID, conn: conn})
}

// Serve registers conn and reads from it until the peer goes away. Incoming messages are
// discarded.
func (h *Hub) Serve(sessionID string, conn *websocket.Conn) error {
	if err := h.Register(sessionID, conn); err != nil {
		return err
	}
	defer h.Unregister(sessionID, conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

// Publish sends one transition event to sessionID's subscribers.
func (h *Hub) Publish(sessionID string, from, to session.State) {
	data, err := json.Marshal(Event{SessionID: sessionID, From: from, To: to})
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	h.send(cmdBroadcast{sessionID: sessionID, data: data})
}

// Listener returns a session.Listener publishing sessionID's transitions.
func (h *Hub) Listener(sessionID string) session.Listener {
	return func(prev, next session.State) {
		h.Publish(sessionID, prev, next)
	}
}

// CloseSession disconnects every subscriber of sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.send(cmdCloseSession{sessionID: sessionID})
}

// ClientCount returns the number of subscribers to sessionID.
func (h *Hub) ClientCount(sessionID string) int {
	replyCh := make(chan int, 1)
	if !h.send(cmdClientCount{sessionID: sessionID, replyCh: replyCh}) {
		return 0
	}
	select {
	case n := <-replyCh:
		return n
	case <-h.stopped:
		return 0
	}
}

// Stop disconnects every subscriber and ends the hub goroutine.
func (h *Hub) Stop() {
	h.send(cmdStop{})
	<-h.stopped
}
