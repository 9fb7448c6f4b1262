// Package ws fans node notifications out to streaming subscribers of an organization.
package ws

import (
	"encoding/json"
	"sync"
	"time"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// NodeEvent is pushed to subscribers when a node of their organization comes online.
type NodeEvent struct {
	Type             string    `json:"type"`
	OrganizationName string    `json:"organizationName"`
	NodeID           string    `json:"nodeId"`
	At               time.Time `json:"at"`
}

// NodeOnline is the event type for a node's first ping after absence.
const NodeOnline = "node_online"

// Hub manages stream subscriptions by organization name.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan chan int
	done      chan struct{}
	once      sync.Once
}

type message struct {
	org     string
	payload []byte
}

type subscription struct {
	org    string
	client Subscriber
}

// NewHub creates a running Hub. Call Close to stop it.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
		count:     make(chan chan int),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return
		default:
		}
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.org]; !ok {
				h.clients[sub.org] = make(map[Subscriber]struct{})
			}
			h.clients[sub.org][sub.client] = struct{}{}
		case sub := <-h.unreg:
			h.drop(sub.org, sub.client)
		case msg := <-h.broadcast:
			for c := range h.clients[msg.org] {
				if err := c.Send(msg.payload); err != nil {
					c.Close()
					h.drop(msg.org, c)
				}
			}
		case reply := <-h.count:
			n := 0
			for _, clients := range h.clients {
				n += len(clients)
			}
			reply <- n
		case <-h.done:
			h.closeAll()
			return
		}
	}
}

func (h *Hub) closeAll() {
	for _, clients := range h.clients {
		for c := range clients {
			c.Close()
		}
	}
	h.clients = map[string]map[Subscriber]struct{}{}
}

func (h *Hub) drop(org string, client Subscriber) {
	clients, ok := h.clients[org]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, org)
	}
}

// Register adds a client to an organization stream.
func (h *Hub) Register(org string, client Subscriber) {
	select {
	case h.register <- subscription{org: org, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(org string, client Subscriber) {
	select {
	case h.unreg <- subscription{org: org, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to every subscriber of org. It drops the message
// rather than block when the hub is saturated or stopped.
func (h *Hub) Broadcast(org string, payload []byte) bool {
	select {
	case h.broadcast <- message{org: org, payload: payload}:
		return true
	case <-h.done:
		return false
	default:
		return false
	}
}

// NotifyNodeOnline broadcasts a NodeEvent for nodeID.
func (h *Hub) NotifyNodeOnline(org, nodeID string, at time.Time) {
	payload, err := json.Marshal(NodeEvent{Type: NodeOnline, OrganizationName: org, NodeID: nodeID, At: at})
	if err != nil {
		return
	}
	h.Broadcast(org, payload)
}

// Subscribers reports the number of registered clients.
func (h *Hub) Subscribers() int {
	select {
	case <-h.done:
		return 0
	default:
	}
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close stops the hub and closes every subscriber.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
}
