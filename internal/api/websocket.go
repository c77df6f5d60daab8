package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/shokooh-rigi/algo-trade/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamedEvents are the lifecycle topics pushed to the operations UI.
var streamedEvents = []events.Event{
	events.EventStrategySignal,
	events.EventDealCreated,
	events.EventDealStateChanged,
	events.EventDealClosed,
	events.EventOrderSubmitted,
	events.EventOrderRejected,
	events.EventOrderFilled,
	events.EventOrderCanceled,
	events.EventTrailingMoved,
	events.EventProtectionGap,
	events.EventKillSwitch,
	events.EventOrphanOrder,
}

type wsMessage struct {
	Event   events.Event `json:"event"`
	Payload any          `json:"payload"`
	At      time.Time    `json:"at"`
}

// websocket streams lifecycle events over one connection until the client
// goes away.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	merged := make(chan wsMessage, 256)
	done := make(chan struct{})
	defer close(done)

	for _, e := range streamedEvents {
		stream, unsub := s.bus.Subscribe(e, 32)
		defer unsub()
		go func(e events.Event, stream <-chan any) {
			for payload := range stream {
				select {
				case merged <- wsMessage{Event: e, Payload: payload, At: time.Now()}:
				case <-done:
					return
				}
			}
		}(e, stream)
	}

	// Pings detect a silently gone client even when no events flow.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg := <-merged:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
