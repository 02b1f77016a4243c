package websocket

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestServerConn(t *testing.T) {
	pingReceived := make(chan struct{})
	pingInterval = 100 * time.Millisecond

	handler := func(w http.ResponseWriter, r *http.Request) {
		c, err := NewServerConn(w, r)
		require.NoError(t, err)
		defer c.Close()

		typ, byts, err := c.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, MessageBinary, typ)
		require.Equal(t, []byte{1, 2, 3}, byts)

		err = c.WriteMessage(MessageBinary, []byte{4, 5, 6})
		require.NoError(t, err)

		<-pingReceived
	}

	ln, err := net.Listen("tcp", "localhost:6344")
	require.NoError(t, err)
	defer ln.Close()

	s := &http.Server{Handler: http.HandlerFunc(handler)}
	go s.Serve(ln) //nolint:errcheck
	defer s.Shutdown(context.Background()) //nolint:errcheck

	c, res, err := websocket.DefaultDialer.Dial("ws://localhost:6344/", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	defer c.Close()

	c.SetPingHandler(func(string) error {
		close(pingReceived)
		return nil
	})

	err = c.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
	require.NoError(t, err)

	typ, byts, err := c.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, typ)
	require.Equal(t, []byte{4, 5, 6}, byts)

	// the ping is processed while waiting for the next message
	c.ReadMessage() //nolint:errcheck

	<-pingReceived
}
