package relay

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// wsChannel is the hub.Channel for one accepted connection.
type wsChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// Send writes payload as one text frame, bounded by writeTimeout.
// Cancellation of ctx is ignored: a cancelled write closes the recipient's
// connection, and ctx usually belongs to the sender's loop.
func (c *wsChannel) Send(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, payload)
}
