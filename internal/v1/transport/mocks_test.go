package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cotype-dev/cotype/backend/go/internal/v1/types"
)

// MockConnection implements wsConnection. Inbound frames are scripted through
// the inbound channel; closing it makes ReadMessage fail like a dropped
// connection.
type MockConnection struct {
	inbound chan []byte

	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func NewMockConnection() *MockConnection {
	return &MockConnection{inbound: make(chan []byte, 16)}
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	data, ok := <-m.inbound
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return 1, data, nil // websocket.TextMessage
}

func (m *MockConnection) WriteMessage(_ int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, data)
	return nil
}

func (m *MockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockConnection) SetWriteDeadline(_ time.Time) error {
	return nil
}

// Inject queues a frame for the read pump.
func (m *MockConnection) Inject(data []byte) {
	m.inbound <- data
}

// Drop simulates the peer disconnecting.
func (m *MockConnection) Drop() {
	close(m.inbound)
}

func (m *MockConnection) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.written))
	copy(out, m.written)
	return out
}

// newTestClient builds a client without starting its pumps, so tests can call
// route synchronously and inspect the send channel directly.
func newTestClient(h *Hub) *Client {
	return &Client{
		conn: NewMockConnection(),
		hub:  h,
		id:   types.SessionIDType(uuid.NewString()),
		send: make(chan []byte, 256),
	}
}

// drainSent empties the client's send channel.
func drainSent(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case data := <-c.send:
			out = append(out, data)
		default:
			return out
		}
	}
}
