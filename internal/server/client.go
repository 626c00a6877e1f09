package server

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/opencase/notesync/internal/channel"
	"github.com/opencase/notesync/internal/event"
)

type client struct {
	peer  channel.Peer
	conn  *websocket.Conn
	alive bool

	sync.Mutex // protects concurrent conn writes
}

func newClient(peer channel.Peer, conn *websocket.Conn) *client {
	return &client{peer: peer, conn: conn, alive: true}
}

// thread-safe websocket writing
func (c *client) write(ev event.Event) {
	c.Lock()
	err := c.conn.WriteJSON(ev)
	c.Unlock()
	if err != nil {
		c.alive = false
	}
}

// relay pumps channel events down to the websocket and websocket
// messages up to the channel. Closing the peer on the way out announces
// the transport-level disconnect to the remaining peers.
func (c *client) relay() {
	sub := c.peer.Subscribe(channel.Any, c.write)

	for c.alive {
		var ev event.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			break
		}
		c.peer.Publish(ev)
	}

	sub.Cancel()
	c.peer.Close()
	c.conn.Close()
}
