// Package websocket provides WebSocket connectivity.
package websocket

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var (
	pingInterval = 30 * time.Second
	pingTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
)

// MessageType is the type of a message.
type MessageType int

// message types.
const (
	MessageText   MessageType = websocket.TextMessage
	MessageBinary MessageType = websocket.BinaryMessage
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type writeReq struct {
	typ  MessageType
	byts []byte
	res  chan error
}

// ServerConn is a server-side WebSocket connection with automatic, periodic ping-pong.
// Writes are serialized by a dedicated routine.
type ServerConn struct {
	wc *websocket.Conn

	// in
	terminate chan struct{}
	write     chan writeReq

	// out
	done chan struct{}
}

// NewServerConn allocates a ServerConn.
func NewServerConn(w http.ResponseWriter, req *http.Request) (*ServerConn, error) {
	wc, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return nil, err
	}

	c := &ServerConn{
		wc:        wc,
		terminate: make(chan struct{}),
		write:     make(chan writeReq),
		done:      make(chan struct{}),
	}

	go c.run()

	return c, nil
}

// Close closes a ServerConn.
func (c *ServerConn) Close() {
	close(c.terminate)
	<-c.done
	c.wc.Close() //nolint:errcheck
}

// RemoteAddr returns the remote address.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.wc.RemoteAddr()
}

func (c *ServerConn) run() {
	defer close(c.done)

	c.wc.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout)) //nolint:errcheck

	c.wc.SetPongHandler(func(string) error {
		c.wc.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout)) //nolint:errcheck
		return nil
	})

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case req := <-c.write:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			req.res <- c.wc.WriteMessage(int(req.typ), req.byts)

		case <-pingTicker.C:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			c.wc.WriteMessage(websocket.PingMessage, nil)       //nolint:errcheck

		case <-c.terminate:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			c.wc.WriteMessage(websocket.CloseMessage, //nolint:errcheck
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// ReadMessage reads a message.
func (c *ServerConn) ReadMessage() (MessageType, []byte, error) {
	typ, byts, err := c.wc.ReadMessage()
	if err != nil {
		return 0, nil, err
	}

	// data is flowing, the peer is alive
	c.wc.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout)) //nolint:errcheck

	return MessageType(typ), byts, nil
}

// WriteMessage writes a message.
func (c *ServerConn) WriteMessage(typ MessageType, byts []byte) error {
	res := make(chan error)

	select {
	case c.write <- writeReq{typ: typ, byts: byts, res: res}:
		return <-res
	case <-c.terminate:
		return fmt.Errorf("terminated")
	}
}
