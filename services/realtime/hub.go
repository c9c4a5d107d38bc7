// Package realtime pushes event mutations to subscribed websocket clients.
//
// Delivery is fire-and-forget: there is no acknowledgement and no replay, so a
// client that joins late must fetch the current event state itself.
package realtime

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// LobbyChannel receives events that are not scoped to a single event, such as
// a newly created event.
const LobbyChannel = "events"

const (
	EventCreated          = "eventCreated"
	EventUpdated          = "eventUpdated"
	NewRegistration       = "newRegistration"
	CancelledRegistration = "cancelledRegistration"
	NewComment            = "newComment"
	StatusChanged         = "statusChanged"
)

func EventChannel(eventID int64) string {
	return fmt.Sprintf("event:%d", eventID)
}

// Frame is what subscribers receive.
type Frame struct {
	Type    string      `json:"type"`
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type Subscriber interface {
	Deliver(f Frame) error
}

type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[Subscriber]struct{}
	log   logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		rooms: make(map[string]map[Subscriber]struct{}),
		log:   log.WithField("component", "realtime"),
	}
}

func (h *Hub) Join(channel string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[channel]
	if !ok {
		room = make(map[Subscriber]struct{})
		h.rooms[channel] = room
	}
	room[s] = struct{}{}
}

func (h *Hub) Leave(channel string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(channel, s)
}

// LeaveAll removes s from every channel. It is called when a connection ends.
func (h *Hub) LeaveAll(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel := range h.rooms {
		h.leaveLocked(channel, s)
	}
}

func (h *Hub) leaveLocked(channel string, s Subscriber) {
	room, ok := h.rooms[channel]
	if !ok {
		return
	}
	delete(room, s)
	if len(room) == 0 {
		delete(h.rooms, channel)
	}
}

// Subscribers returns the number of subscribers on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[channel])
}

// Publish sends name/data to every current subscriber of channel and returns
// how many received it. Subscribers that fail are dropped from the hub.
func (h *Hub) Publish(channel, name string, data interface{}) int {
	h.mu.Lock()
	subscribers := make([]Subscriber, 0, len(h.rooms[channel]))
	for s := range h.rooms[channel] {
		subscribers = append(subscribers, s)
	}
	h.mu.Unlock()

	frame := Frame{Type: name, Channel: channel, Data: data}
	delivered := 0
	for _, s := range subscribers {
		if err := s.Deliver(frame); err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{
				"channel": channel,
				"type":    name,
			}).Debug("dropping subscriber after failed delivery")
			h.LeaveAll(s)
			continue
		}
		delivered++
	}
	return delivered
}

// PublishEvent publishes on the channel of a single event.
func (h *Hub) PublishEvent(eventID int64, name string, data interface{}) int {
	return h.Publish(EventChannel(eventID), name, data)
}
