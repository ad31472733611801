// Turnchat session server
//
// A single shared chat session where participants take turns speaking.
// Exactly one participant may post at a time, each turn allows up to
// three messages, and the turn rotates automatically once they are spent.
//
// Features:
// - One process-wide session over a websocket at /api/ws
// - Join order is turn order; reconnecting under the same name keeps your slot
// - Full state sync pushed to every new connection before it sends anything
// - Per-turn message quota with automatic turn advancement
// - Private errors for out-of-turn or over-quota posts
// - Slow or dead connections are dropped without stalling the broadcast
// - In-browser QR button to share the session URL, backed by go-qrcode

package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type    string `json:"type,omitempty"`    // "join" or "message"
	Event   string `json:"event,omitempty"`   // "ping" keepalive
	Name    string `json:"name,omitempty"`    // join
	Content string `json:"content,omitempty"` // message
}

// GameStateData is the full snapshot every client renders from.
type GameStateData struct {
	CurrentTurn   int      `json:"currentTurn"`
	TurnOrder     []string `json:"turnOrder"`
	Messages      []string `json:"messages"`
	IsGameActive  bool     `json:"isGameActive"`
	CurrentPlayer string   `json:"currentPlayer"`
}

// GameStateMessage carries a full snapshot to one or all clients.
type GameStateMessage struct {
	Type string        `json:"type"` // "gameState"
	Data GameStateData `json:"data"`
}

// NewMessageMessage announces a single accepted chat line to all clients.
type NewMessageMessage struct {
	Type string `json:"type"` // "newMessage"
	Data string `json:"data"`
}

// ErrorMessage is sent only to the client whose post was rejected.
type ErrorMessage struct {
	Type string `json:"type"` // "error"
	Data string `json:"data"`
}

type Client struct {
	conn *websocket.Conn
	send chan any

	// Bound display name ("" until a join frame arrives) and posts made
	// this turn. Both are guarded by hub.mu and only touched from the
	// hub's run loop.
	name string
	used int
}

type joinRequest struct {
	client *Client
	msg    ClientMessage
}

type postRequest struct {
	client *Client
	msg    ClientMessage
}

// Hub owns the session: the connection registry, the shared game state,
// and the broadcast fan-out. All mutation happens on the run goroutine,
// fed by the channels below.
type Hub struct {
	clients map[*Client]bool
	state   GameState

	register chan *Client
	unreg    chan *Client
	joins    chan joinRequest
	posts    chan postRequest

	mu sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:  make(map[*Client]bool),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		joins:    make(chan joinRequest),
		posts:    make(chan postRequest),
	}
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			metricConnections.Inc()

			// Late joiners see all prior joins and messages before
			// sending anything.
			state := h.gameStateLocked()
			h.mu.Unlock()

			c.send <- state

		case c := <-h.unreg:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				metricConnections.Dec()
			}

			// A client dropped during fan-out is already out of the
			// map, but its name still holds a rotation slot.
			if c.name != "" {
				h.state.leave(c.name)
				logf(cfg, "CHAT: %q left, turn order is now [%s]", c.name, strings.Join(h.state.turnOrder, ", "))
				h.broadcastStateLocked()
			}
			h.mu.Unlock()

		case jr := <-h.joins:
			h.handleJoin(cfg, jr)

		case pr := <-h.posts:
			h.handlePost(cfg, pr)
		}
	}
}

// handleJoin binds the connection to a display name and inserts it into
// the turn rotation. Rebinding an already-bound connection is a no-op, as
// is joining under a name already in the rotation.
func (h *Hub) handleJoin(cfg *Config, jr joinRequest) {
	c := jr.client

	if jr.msg.Name == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[c] {
		return
	}

	if c.name == "" {
		c.name = jr.msg.Name
	}

	if h.state.join(c.name) {
		logf(cfg, "CHAT: %q joined, turn order is now [%s]", c.name, strings.Join(h.state.turnOrder, ", "))
	}

	h.broadcastStateLocked()
}

// handlePost runs a message attempt through the turn and quota rules.
func (h *Hub) handlePost(cfg *Config, pr postRequest) {
	c := pr.client

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[c] || c.name == "" {
		return
	}

	switch h.state.checkPost(c.name, c.used) {
	case postNotYourTurn:
		h.sendErrorLocked(c, "It's "+h.state.currentPlayer()+"'s turn!")
		metricRejectedPosts.Inc()
		logf(cfg, "CHAT: rejected post from %q, current turn is %q", c.name, h.state.currentPlayer())
		return
	case postQuotaExhausted:
		h.sendErrorLocked(c, "You have used all your messages for this turn!")
		metricRejectedPosts.Inc()
		logf(cfg, "CHAT: rejected post from %q, quota exhausted", c.name)
		return
	}

	line := h.state.appendMessage(c.name, pr.msg.Content)
	c.used++
	metricMessages.Inc()
	logf(cfg, "CHAT: %q sent message %d/%d", c.name, c.used, messagesPerTurn)

	h.broadcastLocked(NewMessageMessage{
		Type: "newMessage",
		Data: line,
	})

	if c.used >= messagesPerTurn {
		if len(h.state.turnOrder) > 1 {
			h.state.advanceTurn()
			h.resetQuotasLocked()
			metricTurns.Inc()
			logf(cfg, "CHAT: turn changed to %q", h.state.currentPlayer())
		} else {
			// Alone in the session there is nowhere to pass the turn,
			// so the quota just resets.
			c.used = 0
		}
	}

	h.broadcastStateLocked()
}

func (h *Hub) resetQuotasLocked() {
	for c := range h.clients {
		c.used = 0
	}
}

// gameStateLocked snapshots the shared state into an outbound envelope.
// Slices are copied so later mutation never races a pending write.
func (h *Hub) gameStateLocked() GameStateMessage {
	return GameStateMessage{
		Type: "gameState",
		Data: GameStateData{
			CurrentTurn:   h.state.currentTurn,
			TurnOrder:     append([]string{}, h.state.turnOrder...),
			Messages:      append([]string{}, h.state.messages...),
			IsGameActive:  h.state.active,
			CurrentPlayer: h.state.currentPlayer(),
		},
	}
}

func (h *Hub) broadcastStateLocked() {
	h.broadcastLocked(h.gameStateLocked())
}

// broadcastLocked fans msg out to every client. A client whose send
// buffer is full is dropped on the spot; closing its send channel tears
// the connection down and routes it through the normal disconnect path,
// so one stuck peer never stalls the rest.
func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			h.dropClientLocked(client)
		}
	}
}

func (h *Hub) sendErrorLocked(c *Client, text string) {
	select {
	case c.send <- ErrorMessage{
		Type: "error",
		Data: text,
	}:
	default:
		h.dropClientLocked(c)
	}
}

func (h *Hub) dropClientLocked(c *Client) {
	delete(h.clients, c)
	close(c.send)
	metricConnections.Dec()
	metricSendFailures.Inc()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWS upgrades the connection and hands it to the hub.
func serveWS(hub *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
		}

		hub.register <- client

		go client.writePump()
		client.readPump(hub)
	}
}

// readPump decodes inbound frames and routes them to the hub. A frame
// that fails to decode is logged and dropped; only a transport-level read
// error ends the connection.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			metricBadFrames.Inc()
			log.Printf("CHAT: dropping malformed frame: %v", err)
			continue
		}

		// Keepalives exist only to hold the transport open.
		if msg.Event == "ping" {
			continue
		}

		switch msg.Type {
		case "join":
			h.joins <- joinRequest{
				client: c,
				msg:    msg,
			}
		case "message":
			h.posts <- postRequest{
				client: c,
				msg:    msg,
			}
		default:
			metricBadFrames.Inc()
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the session URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at <prefix>/qr; strip the trailing "/qr" to get the session URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")
	if path == "" {
		path = "/"
	}

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerChat sets up the session routes:
//   - <prefix>/        → HTML client
//   - <prefix>/api/ws  → the session websocket
//   - <prefix>/qr      → PNG QR code for the session URL
func registerChat(cfg *Config, mux *httprouter.Router) *Hub {
	hub := newHub()
	go hub.run(cfg)

	mux.GET(cfg.prefix+"/", getIndexHandler(cfg))
	mux.GET(cfg.prefix+"/assets/chat/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/chat/app.js", getJsHandler(cfg))
	mux.GET(cfg.prefix+"/api/ws", serveWS(hub))
	mux.GET(cfg.prefix+"/qr", qrHandler)

	return hub
}
