package server

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	orchestration "github.com/Cirilla-zmh/asr-demo/core"
)

// wsConn adapts a gorilla websocket connection to the engine's connection
// contract. Gorilla allows only one concurrent writer, so all writes are
// serialized through writeMu.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) WriteEvent(event orchestration.Event) error {
	if c.closed.Load() {
		return fmt.Errorf("connection closed")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func (c *wsConn) WriteAudio(chunk []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("connection closed")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("failed to write audio chunk: %w", err)
	}
	return nil
}

func (c *wsConn) Open() bool {
	return !c.closed.Load()
}

func (c *wsConn) markClosed() {
	c.closed.Store(true)
}
