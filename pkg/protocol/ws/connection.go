package ws

import (
	"net/http"

	"github.com/coder/websocket"

	"nwcly.dev/pkg/utils/context"
)

// Connection is an outbound client -> relay websocket connection.
type Connection struct {
	conn *websocket.Conn
}

// NewConnection dials the relay URL and returns the established connection.
func NewConnection(
	c context.T, url string, requestHeader http.Header,
) (cn *Connection, err error) {
	var conn *websocket.Conn
	if conn, _, err = websocket.Dial(
		c, url, &websocket.DialOptions{
			HTTPHeader:      requestHeader,
			CompressionMode: websocket.CompressionContextTakeover,
		},
	); err != nil {
		return
	}
	// relay messages can be large; the default read limit is 32kb
	conn.SetReadLimit(1 << 21)
	return &Connection{conn: conn}, nil
}

// WriteMessage dispatches a text message through the Connection.
func (cn *Connection) WriteMessage(c context.T, data []byte) (err error) {
	return cn.conn.Write(c, websocket.MessageText, data)
}

// ReadMessage picks up the next incoming message on the Connection.
func (cn *Connection) ReadMessage(c context.T) (data []byte, err error) {
	_, data, err = cn.conn.Read(c)
	return
}

// Ping sends a ping frame and waits for the pong.
func (cn *Connection) Ping(c context.T) (err error) {
	return cn.conn.Ping(c)
}

// Close the Connection.
func (cn *Connection) Close() (err error) {
	return cn.conn.Close(websocket.StatusNormalClosure, "")
}

// CloseStatus extracts the websocket close code from an error, or -1.
func CloseStatus(err error) int {
	return int(websocket.CloseStatus(err))
}
