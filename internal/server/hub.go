package server

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/versioduo/v2configure/internal/device"
	"github.com/versioduo/v2configure/internal/firmware"
	"github.com/versioduo/v2configure/internal/midi"
)

// EventType tags the messages of the event stream
type EventType string

const (
	EventShow     EventType = "show"
	EventReset    EventType = "reset"
	EventNotice   EventType = "notice"
	EventProgress EventType = "progress"
	EventState    EventType = "state"
	EventPort     EventType = "port"
	EventMessage  EventType = "message"
)

// Progress reports a firmware transfer
type Progress struct {
	Sent  int `json:"sent"`
	Total int `json:"total"`
}

// Event is one message of the event stream
type Event struct {
	Type     EventType          `json:"type"`
	Device   *device.Descriptor `json:"device,omitempty"`
	Notice   *device.Notice     `json:"notice,omitempty"`
	Progress *Progress          `json:"progress,omitempty"`
	State    string             `json:"state,omitempty"`
	Port     *midi.PortChange   `json:"port,omitempty"`
	Message  *midi.Message      `json:"message,omitempty"`
}

// Hub maintains the set of active clients and broadcasts events to them
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	// done is closed when Run returns
	done chan struct{}

	mu      sync.RWMutex
	clients map[*Client]bool

	log zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 256),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's main event loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug().Str("clientId", client.id).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug().Str("clientId", client.id).Msg("client unregistered")

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- event:
				default:
					// too slow, drop it
					delete(h.clients, client)
					close(client.send)
					h.log.Warn().Str("clientId", client.id).Msg("dropping slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client; it reports false once the hub has stopped
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client and closes its send channel
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish queues an event for all clients; it never blocks
func (h *Hub) Publish(e Event) {
	select {
	case h.broadcast <- e:
	default:
		h.log.Warn().Str("type", string(e.Type)).Msg("event queue full, dropping event")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SnapshotReceived implements device.Subscriber
func (h *Hub) SnapshotReceived(d *device.Descriptor) {
	h.Publish(Event{Type: EventShow, Device: d})
}

// SessionReset implements device.Subscriber
func (h *Hub) SessionReset() {
	h.Publish(Event{Type: EventReset})
}

// Notice forwards a session notice
func (h *Hub) Notice(n device.Notice) {
	h.Publish(Event{Type: EventNotice, Notice: &n})
}

// StateChanged forwards a session state change
func (h *Hub) StateChanged(s device.State) {
	h.Publish(Event{Type: EventState, State: s.String()})
}

// PortChanged forwards a port appearing or disappearing
func (h *Hub) PortChanged(c midi.PortChange) {
	h.Publish(Event{Type: EventPort, Port: &c})
}

// Message forwards a channel message sent by the device
func (h *Hub) Message(m midi.Message) {
	h.Publish(Event{Type: EventMessage, Message: &m})
}

// Progress implements firmware.Reporter
func (h *Hub) Progress(sent, total int) {
	h.Publish(Event{Type: EventProgress, Progress: &Progress{Sent: sent, Total: total}})
}

// Completed implements firmware.Reporter
func (h *Hub) Completed() {
	h.Notice(device.Notice{Level: device.LevelSuccess, Text: "Firmware update successful. Reconnecting device ..."})
}

// Failed implements firmware.Reporter
func (h *Hub) Failed(err error) {
	h.Notice(device.Notice{Level: device.LevelError, Text: firmware.Describe(err)})
}
