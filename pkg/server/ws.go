package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rvlink-network/rvlink/pkg/broadcast"
	"github.com/rvlink-network/rvlink/pkg/metrics"
	"github.com/rvlink-network/rvlink/pkg/util"
)

const (
	// wsFilterWindow is how long the handler waits for an optional filter
	// message before streaming with no filter.
	wsFilterWindow = 500 * time.Millisecond
	// wsWriteTimeout bounds each outbound write. A client that cannot keep
	// up within it is disconnected.
	wsWriteTimeout = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEnvelope is the outbound stream message.
type wsEnvelope struct {
	Type      string      `json:"type"` // entity_update, can_message, system_event
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// wsFilter is the optional first client message. Kinds accepts both the wire
// type names and the internal event kind names.
type wsFilter struct {
	Kinds       []string `json:"kinds,omitempty"`
	EntityIDs   []string `json:"entity_ids,omitempty"`
	DeviceTypes []string `json:"device_types,omitempty"`
	Areas       []string `json:"areas,omitempty"`
	Interfaces  []string `json:"interfaces,omitempty"`
}

func (f wsFilter) toBroadcast() broadcast.Filter {
	kinds := make([]string, 0, len(f.Kinds))
	for _, k := range f.Kinds {
		switch k {
		case "entity_update":
			k = broadcast.KindEntityDelta
		case "can_message":
			k = broadcast.KindRawFrame
		}
		kinds = append(kinds, k)
	}
	return broadcast.Filter{
		Kinds:       kinds,
		EntityIDs:   f.EntityIDs,
		DeviceTypes: f.DeviceTypes,
		Areas:       f.Areas,
		Interfaces:  f.Interfaces,
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Debugf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	filter := readClientFilter(conn)
	sub := s.bus.Subscribe(filter)
	defer sub.Cancel()

	metrics.WebsocketClients.Inc()
	defer metrics.WebsocketClients.Dec()

	// Reader goroutine: drains control frames and signals disconnect.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Time{})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				// Overflowed or broadcaster shut down.
				deadline := time.Now().Add(wsWriteTimeout)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"), deadline)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(envelope(ev)); err != nil {
				util.Debugf("websocket write: %v", err)
				return
			}
		}
	}
}

// readClientFilter waits briefly for the optional filter message. Anything
// unparsable, or silence, yields the match-all filter.
func readClientFilter(conn *websocket.Conn) broadcast.Filter {
	conn.SetReadDeadline(time.Now().Add(wsFilterWindow))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return broadcast.Filter{}
	}
	var f wsFilter
	if err := json.Unmarshal(data, &f); err != nil {
		util.Debugf("websocket filter: %v", err)
		return broadcast.Filter{}
	}
	return f.toBroadcast()
}

func envelope(ev broadcast.Event) wsEnvelope {
	switch e := ev.(type) {
	case broadcast.EntityDelta:
		return wsEnvelope{Type: "entity_update", Timestamp: e.Timestamp, Data: e}
	case broadcast.RawFrame:
		return wsEnvelope{Type: "can_message", Timestamp: e.Timestamp, Data: e}
	case broadcast.SystemEvent:
		return wsEnvelope{Type: "system_event", Timestamp: e.Timestamp, Data: e}
	default:
		return wsEnvelope{Type: ev.Kind(), Timestamp: time.Now(), Data: ev}
	}
}
