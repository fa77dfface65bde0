// Package activity provides real-time activity event capture and fan-out.
// Events are persisted for the feed history and broadcast to connected
// websocket clients scoped to their organization.
package activity

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/models"
)

// Store persists activity events. *db.DB satisfies it.
type Store interface {
	CreateActivityEvent(ctx context.Context, event *models.ActivityEvent) error
}

// Client represents a connected websocket client.
type Client struct {
	id     uuid.UUID
	orgID  uuid.UUID
	userID uuid.UUID
	conn   *websocket.Conn
	send   chan *models.ActivityEvent
	feed   *Feed
	mu     sync.Mutex
	filter *ClientFilter
}

func (c *Client) currentFilter() *ClientFilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// ClientFilter holds the filter preferences for a connected client. Clients
// update it by sending a {"type":"filter","filter":{...}} message.
type ClientFilter struct {
	Categories []models.ActivityEventCategory `json:"categories,omitempty"`
	Types      []models.ActivityEventType     `json:"types,omitempty"`
	UserIDs    []uuid.UUID                    `json:"user_ids,omitempty"`
}

// Matches checks if an event matches the client's filter.
func (f *ClientFilter) Matches(event *models.ActivityEvent) bool {
	if f == nil {
		return true
	}

	if len(f.Categories) > 0 {
		found := false
		for _, cat := range f.Categories {
			if cat == event.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.UserIDs) > 0 {
		if event.UserID == nil {
			return false
		}
		found := false
		for _, id := range f.UserIDs {
			if id == *event.UserID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// Config holds configuration for the Feed.
type Config struct {
	// PingInterval is how often to send ping messages to clients.
	PingInterval time.Duration
	// WriteTimeout is the timeout for writing to a client.
	WriteTimeout time.Duration
	// ReadTimeout is the timeout for reading from a client.
	ReadTimeout time.Duration
	// MaxMessageSize is the maximum size of a message from a client.
	MaxMessageSize int64
	// SendBufferSize is the size of the send buffer per client.
	SendBufferSize int
	// AllowedOrigins restricts websocket upgrades by Origin header. Empty
	// allows all origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 512,
		SendBufferSize: 256,
	}
}

// Feed manages activity event persistence and broadcasting to connected
// clients. Broadcast delivery is best effort: a slow client drops events
// rather than stalling the feed.
type Feed struct {
	config   Config
	store    Store
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	clientsMu  sync.RWMutex
	clients    map[uuid.UUID]*Client
	orgClients map[uuid.UUID]map[uuid.UUID]*Client // orgID -> clientID -> client

	broadcast  chan *models.ActivityEvent
	register   chan *Client
	unregister chan *Client

	done chan struct{}
	wg   sync.WaitGroup
}

// NewFeed creates a new Feed with the given configuration.
func NewFeed(store Store, cfg Config, logger zerolog.Logger) *Feed {
	return &Feed{
		config: cfg,
		store:  store,
		logger: logger.With().Str("component", "activity_feed").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
			},
		},
		clients:    make(map[uuid.UUID]*Client),
		orgClients: make(map[uuid.UUID]map[uuid.UUID]*Client),
		broadcast:  make(chan *models.ActivityEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// originAllowed permits requests without an Origin header (non-browser
// clients) and any configured origin. An empty list allows all origins.
func originAllowed(allowed []string, origin string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// Start begins processing events and client management.
func (f *Feed) Start() {
	f.wg.Add(1)
	go f.run()
	f.logger.Info().Msg("activity feed started")
}

// Stop stops the feed and closes all client connections.
func (f *Feed) Stop() {
	close(f.done)
	f.wg.Wait()
	f.logger.Info().Msg("activity feed stopped")
}

func (f *Feed) run() {
	defer f.wg.Done()

	for {
		select {
		case <-f.done:
			f.closeAllClients()
			return

		case client := <-f.register:
			f.addClient(client)

		case client := <-f.unregister:
			f.removeClient(client)

		case event := <-f.broadcast:
			f.broadcastEvent(event)
		}
	}
}

func (f *Feed) addClient(client *Client) {
	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()

	f.clients[client.id] = client

	if _, ok := f.orgClients[client.orgID]; !ok {
		f.orgClients[client.orgID] = make(map[uuid.UUID]*Client)
	}
	f.orgClients[client.orgID][client.id] = client

	f.logger.Debug().
		Str("client_id", client.id.String()).
		Str("org_id", client.orgID.String()).
		Str("user_id", client.userID.String()).
		Msg("client connected")
}

func (f *Feed) removeClient(client *Client) {
	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()

	if _, ok := f.clients[client.id]; !ok {
		return
	}

	delete(f.clients, client.id)

	if orgClients, ok := f.orgClients[client.orgID]; ok {
		delete(orgClients, client.id)
		if len(orgClients) == 0 {
			delete(f.orgClients, client.orgID)
		}
	}

	close(client.send)

	f.logger.Debug().
		Str("client_id", client.id.String()).
		Str("org_id", client.orgID.String()).
		Msg("client disconnected")
}

func (f *Feed) closeAllClients() {
	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()

	for _, client := range f.clients {
		close(client.send)
	}
	f.clients = make(map[uuid.UUID]*Client)
	f.orgClients = make(map[uuid.UUID]map[uuid.UUID]*Client)
}

// broadcastEvent sends an event to all clients in the same organization.
func (f *Feed) broadcastEvent(event *models.ActivityEvent) {
	f.clientsMu.RLock()
	orgClients := f.orgClients[event.OrganizationID]
	f.clientsMu.RUnlock()

	for _, client := range orgClients {
		if !client.currentFilter().Matches(event) {
			continue
		}
		select {
		case client.send <- event:
		default:
			f.logger.Warn().
				Str("client_id", client.id.String()).
				Msg("client send buffer full, dropping event")
		}
	}
}

// Publish persists an event and broadcasts it to connected clients. A
// persistence failure is logged; the live broadcast still goes out.
func (f *Feed) Publish(ctx context.Context, event *models.ActivityEvent) {
	if f.store != nil {
		if err := f.store.CreateActivityEvent(ctx, event); err != nil {
			f.logger.Error().Err(err).
				Str("event_type", string(event.Type)).
				Msg("failed to persist activity event")
		}
	}

	select {
	case f.broadcast <- event:
	default:
		f.logger.Warn().Msg("broadcast buffer full, dropping event")
	}
}

// HandleWebSocket upgrades the request and attaches the client to the feed.
// The caller has already authenticated the user and resolved the org scope.
func (f *Feed) HandleWebSocket(w http.ResponseWriter, r *http.Request, orgID, userID uuid.UUID) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	client := &Client{
		id:     uuid.New(),
		orgID:  orgID,
		userID: userID,
		conn:   conn,
		send:   make(chan *models.ActivityEvent, f.config.SendBufferSize),
		feed:   f,
		filter: &ClientFilter{},
	}

	f.register <- client

	go client.writePump()
	go client.readPump()
}

// GetClientCount returns the number of connected clients for an organization.
func (f *Feed) GetClientCount(orgID uuid.UUID) int {
	f.clientsMu.RLock()
	defer f.clientsMu.RUnlock()

	if orgClients, ok := f.orgClients[orgID]; ok {
		return len(orgClients)
	}
	return 0
}

// GetTotalClientCount returns the total number of connected clients.
func (f *Feed) GetTotalClientCount() int {
	f.clientsMu.RLock()
	defer f.clientsMu.RUnlock()
	return len(f.clients)
}

// readPump consumes client messages, applying filter updates. It drives
// connection teardown: any read error unregisters the client.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.feed.unregister <- c:
		case <-c.feed.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.feed.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.feed.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.feed.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.feed.logger.Debug().Err(err).Msg("websocket read error")
			}
			break
		}

		var filterUpdate struct {
			Type   string       `json:"type"`
			Filter ClientFilter `json:"filter"`
		}
		if err := json.Unmarshal(message, &filterUpdate); err == nil && filterUpdate.Type == "filter" {
			c.mu.Lock()
			c.filter = &filterUpdate.Filter
			c.mu.Unlock()
		}
	}
}

// writePump delivers events and keepalive pings to the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.feed.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.feed.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			data, _ := json.Marshal(event)
			w.Write(data)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.feed.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
