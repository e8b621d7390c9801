package transport

import (
	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the client uses. Tests substitute
// fakes through the Dialer seam.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a websocket connection to the given URL.
type Dialer func(urlStr string) (Conn, error)

// defaultDial connects using the package-level gorilla dialer.
func defaultDial(urlStr string) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(urlStr, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}
