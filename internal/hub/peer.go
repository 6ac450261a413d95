package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Peer represents an individual requester window connected to the hub.
// The origin is the one declared at the WS handshake and is tested
// against the hub's pattern on every message.
type Peer struct {
	Origin string
	Since  time.Time

	ws *websocket.Conn

	// Channel for outbound messages.
	dataQ chan []byte

	hub *Hub
}

// newPeer returns a new instance of Peer.
func newPeer(origin string, ws *websocket.Conn, hub *Hub) *Peer {
	return &Peer{
		Origin: origin,
		Since:  time.Now(),
		ws:     ws,
		dataQ:  make(chan []byte, hub.cfg.MaxMessageQueue),
		hub:    hub,
	}
}

// RunListener is a blocking function that reads incoming frames from the
// peer's WS connection until it's dropped or there's an error. Each frame
// runs through the hub's state machine and any resulting response goes
// back to this peer only. This should be invoked as a goroutine.
func (p *Peer) RunListener() {
	rl := rate.NewLimiter(rate.Every(p.hub.cfg.RateLimitInterval), p.hub.cfg.RateLimitMessages)
	p.ws.SetReadLimit(int64(p.hub.cfg.MaxMessageLen))
	for {
		_, m, err := p.ws.ReadMessage()
		if err != nil {
			break
		}
		if len(m) < 1 {
			continue
		}
		if !rl.Allow() {
			continue
		}
		if res, ok := p.hub.HandleMessage(p.Origin, m); ok {
			p.SendData(res)
		}
	}

	// WS connection is closed.
	p.ws.Close()
	close(p.dataQ)
}

// RunWriter is a blocking function that writes messages in the peer's
// queue to the peer's WS connection. This should be invoked as a
// goroutine.
func (p *Peer) RunWriter() {
	defer p.ws.Close()
	for {
		message, ok := <-p.dataQ
		if !ok {
			p.writeWSData(websocket.CloseMessage, []byte{})
			return
		}
		if err := p.writeWSData(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// SendData queues a message to be written to the peer's WS.
func (p *Peer) SendData(b []byte) {
	p.dataQ <- b
}

// writeWSData writes the given payload to the peer's WS connection.
func (p *Peer) writeWSData(msgType int, payload []byte) error {
	p.ws.SetWriteDeadline(time.Now().Add(p.hub.cfg.WSTimeout))
	return p.ws.WriteMessage(msgType, payload)
}
