package preview

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/layout"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

// Stream broadcasts every presented frame to websocket clients as a binary
// message: width, height, then one RGB triple per pixel in row order.
type Stream struct {
	*Canvas
	logger  *logging.Logger
	clients map[net.Conn]*client
	last    []byte
	mu      sync.Mutex
}

func NewStream(l layout.Layout, logger *logging.Logger) (*Stream, error) {
	if l.Width > 255 || l.Height > 255 {
		return nil, errTooLarge
	}

	canvas, err := NewCanvas(l)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = logging.Discard()
	}

	return &Stream{
		Canvas:  canvas,
		logger:  logger.WithComponent("preview-stream"),
		clients: make(map[net.Conn]*client),
	}, nil
}

// Longest a single frame write may block before the client is dropped.
var writeTimeout = 2 * time.Second

// client holds at most one pending frame; a newer frame replaces it.
type client struct {
	conn   net.Conn
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func newClient(conn net.Conn) *client {
	return &client{
		conn:   conn,
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
}

func (c *client) offer(msg []byte) {
	for {
		select {
		case c.frames <- msg:
			return
		default:
		}

		select {
		case <-c.frames:
		default:
		}
	}
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// EncodeStreamFrame builds the binary message for a logical picture.
func EncodeStreamFrame(width, height int, pix []xcolor.RGB) []byte {
	msg := make([]byte, 0, 2+3*len(pix))
	msg = append(msg, byte(width), byte(height))

	for _, c := range pix {
		msg = append(msg, c.R, c.G, c.B)
	}

	return msg
}

// ServeHTTP upgrades the request to a websocket and sends it the current frame
// followed by every later one.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", "error", err, "remote", r.RemoteAddr)

		return
	}

	s.attach(conn)
}

func (s *Stream) attach(conn net.Conn) {
	c := newClient(conn)

	s.mu.Lock()
	s.clients[conn] = c
	if s.last != nil {
		c.offer(s.last)
	}
	s.mu.Unlock()

	s.logger.Info("Preview client connected", "remote", conn.RemoteAddr().String())

	go s.writeLoop(c)
	go s.readLoop(conn)
}

// writeLoop sends queued frames until the client is dropped or a write fails.
func (s *Stream) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.frames:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

			if err := wsutil.WriteServerBinary(c.conn, msg); err != nil {
				s.logger.Debug("Preview write failed", "error", err, "remote", c.conn.RemoteAddr().String())
				s.drop(c.conn)

				return
			}
		}
	}
}

// readLoop drains control frames until the client goes away.
func (s *Stream) readLoop(conn net.Conn) {
	defer s.drop(conn)

	for {
		if _, _, err := wsutil.ReadClientData(conn); err != nil {
			return
		}
	}
}

func (s *Stream) drop(conn net.Conn) {
	s.mu.Lock()
	c, ok := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()

	if ok {
		c.stop()
		conn.Close()
		s.logger.Info("Preview client disconnected", "remote", conn.RemoteAddr().String())
	}
}

// Present queues the current picture for every client without waiting on the
// network.
func (s *Stream) Present() error {
	width, height := s.Size()
	msg := EncodeStreamFrame(width, height, s.Snapshot())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = msg
	for _, c := range s.clients {
		c.offer(msg)
	}

	return nil
}

func (s *Stream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

func (s *Stream) Close() error {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[net.Conn]*client)
	s.mu.Unlock()

	for conn, c := range clients {
		c.stop()
		conn.Close()
	}

	return nil
}
