package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harun/insight/pkg/agent"
)

// maxHistoryTurns bounds the in-memory conversation kept per connection.
const maxHistoryTurns = 20

// Client is one websocket connection and its conversation.
type Client struct {
	ID          string
	IPAddress   string
	ConnectedAt time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu            sync.Mutex
	authenticated bool
	challenge     string
	authAttempts  int
	lastActivity  time.Time
	history       []agent.Message
	activeRun     string
}

func newClient(id, ip string, conn *websocket.Conn) *Client {
	now := time.Now()
	return &Client{
		ID:           id,
		IPAddress:    ip,
		ConnectedAt:  now,
		conn:         conn,
		lastActivity: now,
	}
}

// WriteFrame sends one frame. Safe for concurrent use.
func (c *Client) WriteFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

// Authenticated reports whether the client passed the challenge.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// History returns a copy of the conversation so far.
func (c *Client) History() []agent.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]agent.Message(nil), c.history...)
}

// appendTurn records a completed question/answer pair, dropping the
// oldest turns past maxHistoryTurns.
func (c *Client) appendTurn(question, answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history,
		agent.Message{Role: "user", Content: question},
		agent.Message{Role: "assistant", Content: answer},
	)
	if extra := len(c.history) - 2*maxHistoryTurns; extra > 0 {
		c.history = append([]agent.Message(nil), c.history[extra:]...)
	}
}

// setActiveRun claims the client's single run slot. It reports false if
// a run is already active.
func (c *Client) setActiveRun(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if runID != "" && c.activeRun != "" {
		return false
	}
	c.activeRun = runID
	return true
}

func (c *Client) currentRun() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRun
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Client) info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientInfo{
		ID:            c.ID,
		Authenticated: c.authenticated,
		ConnectedAt:   c.ConnectedAt,
		LastActivity:  c.lastActivity,
		IPAddress:     c.IPAddress,
		Turns:         len(c.history) / 2,
		ActiveRun:     c.activeRun,
	}
}

// ClientRegistry manages connected clients
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
	}
}

// Add adds a client to the registry
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[client.ID] = client
}

// Remove removes a client from the registry
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, clientID)
}

// Get retrieves a client by ID
func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[clientID]
	return client, exists
}

// GetAll returns all clients
func (r *ClientRegistry) GetAll() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// GetConnectedClients returns client information for all connected clients
func (r *ClientRegistry) GetConnectedClients() []ClientInfo {
	clients := r.GetAll()
	infos := make([]ClientInfo, 0, len(clients))
	for _, client := range clients {
		infos = append(infos, client.info())
	}
	return infos
}
