// Package notify fans committed seat state changes out to live subscribers
// (the SSE stream). Delivery is best effort: a subscriber that cannot keep
// up loses events rather than slowing the publisher.
package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/model"
)

// Publisher is what the ticketing core depends on.
type Publisher interface {
	Publish(scheduleID uint64, ev model.SeatEvent)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(uint64, model.SeatEvent) {}

type Client struct {
	id         uint64
	scheduleID uint64
	Send       chan model.SeatEvent
}

type Hub struct {
	mu      sync.RWMutex
	nextID  uint64
	clients map[uint64]map[uint64]*Client // schedule -> client id -> client
	buffer  int
	log     *zap.SugaredLogger
}

func NewHub(buffer int, log *zap.SugaredLogger) *Hub {
	if buffer < 1 {
		buffer = 16
	}
	return &Hub{clients: map[uint64]map[uint64]*Client{}, buffer: buffer, log: log}
}

// Subscribe registers a client for one schedule. The returned func
// unregisters it and closes Send; it is safe to call more than once.
func (h *Hub) Subscribe(scheduleID uint64) (*Client, func()) {
	h.mu.Lock()
	h.nextID++
	c := &Client{id: h.nextID, scheduleID: scheduleID, Send: make(chan model.SeatEvent, h.buffer)}
	if h.clients[scheduleID] == nil {
		h.clients[scheduleID] = map[uint64]*Client{}
	}
	h.clients[scheduleID][c.id] = c
	h.mu.Unlock()

	var once sync.Once
	return c, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.clients[scheduleID], c.id)
			if len(h.clients[scheduleID]) == 0 {
				delete(h.clients, scheduleID)
			}
			close(c.Send)
		})
	}
}

func (h *Hub) Publish(scheduleID uint64, ev model.SeatEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients[scheduleID] {
		select {
		case c.Send <- ev:
		default:
			h.log.Debugw("notify: drop event for slow subscriber", "schedule_id", scheduleID, "client", c.id)
		}
	}
}

// Subscribers returns the number of clients watching a schedule.
func (h *Hub) Subscribers(scheduleID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[scheduleID])
}
