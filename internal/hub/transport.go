package hub

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"pulsehub/internal/conn"
)

// Transport timing, grounded on the teacher's internal/websocket/client.go
// constants (writeWait, pongWait, pingPeriod, maxMessageSize), generalized
// to spec.md's configurable maxPayloadSize and activityTimeout.
const (
	writeWait = 10 * time.Second
	sendQueue = 256
)

var errSendQueueFull = fmt.Errorf("hub: send queue full, connection closing")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSender adapts a *websocket.Conn to internal/conn.Sender, pairing a
// readPump/writePump goroutine per connection exactly as the teacher's
// Client does, generalized from the teacher's fixed message-type switch
// to spec.md's full dispatch table.
type wsSender struct {
	ws   *websocket.Conn
	send chan []byte
	buf  atomic.Int64

	writeMu sync.Mutex
	once    sync.Once
	closed  atomic.Bool
}

func newWSSender(ws *websocket.Conn) *wsSender {
	return &wsSender{ws: ws, send: make(chan []byte, sendQueue)}
}

// Send queues frameBytes for delivery. A full queue force-closes the
// connection rather than blocking the caller (spec.md §5's backpressure
// policy: the orchestrator, not the transport, decides when to shed).
func (w *wsSender) Send(frameBytes []byte) error {
	if w.closed.Load() {
		return websocket.ErrCloseSent
	}
	select {
	case w.send <- frameBytes:
		w.buf.Add(int64(len(frameBytes)))
		return nil
	default:
		w.shutdown(1011, "send queue full")
		return errSendQueueFull
	}
}

func (w *wsSender) BufferedBytes() int {
	return int(w.buf.Load())
}

// Close implements conn.Sender: it sends a close frame with code/reason
// and stops writePump by closing the send channel.
func (w *wsSender) Close(code int, reason string) error {
	w.shutdown(code, reason)
	return nil
}

func (w *wsSender) shutdown(code int, reason string) {
	w.once.Do(func() {
		w.closed.Store(true)
		msg := websocket.FormatCloseMessage(code, reason)
		w.writeMu.Lock()
		w.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = w.ws.WriteMessage(websocket.CloseMessage, msg)
		w.writeMu.Unlock()
		close(w.send)
	})
}

// readPump reads inbound frames off ws and hands each to
// Server.handleFrame, until the connection errors or activityTimeout
// elapses without a pong.
func (s *Server) readPump(c *conn.Connection, w *wsSender, activityTimeout time.Duration) {
	defer func() {
		s.onDisconnect(c)
		w.ws.Close()
	}()

	w.ws.SetReadLimit(s.cfg.Server.MaxPayloadSize)
	w.ws.SetReadDeadline(time.Now().Add(activityTimeout))
	w.ws.SetPongHandler(func(string) error {
		w.ws.SetReadDeadline(time.Now().Add(activityTimeout))
		return nil
	})

	for {
		_, raw, err := w.ws.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(c, raw)
	}
}

// writePump drains w.send onto the socket, batching queued frames into a
// single WebSocket message the way the teacher's writePump does, and
// pings on a ticker to keep the connection alive.
func (s *Server) writePump(w *wsSender, activityTimeout time.Duration) {
	pingPeriod := (activityTimeout * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-w.send:
			if !ok {
				return
			}
			w.buf.Add(-int64(len(msg)))

			w.writeMu.Lock()
			w.ws.SetWriteDeadline(time.Now().Add(writeWait))
			nw, err := w.ws.NextWriter(websocket.TextMessage)
			if err != nil {
				w.writeMu.Unlock()
				return
			}
			nw.Write(msg)

			n := len(w.send)
		drain:
			for i := 0; i < n; i++ {
				select {
				case queued, ok := <-w.send:
					if !ok {
						break drain
					}
					w.buf.Add(-int64(len(queued)))
					nw.Write([]byte{'\n'})
					nw.Write(queued)
				default:
					break drain
				}
			}
			err = nw.Close()
			w.writeMu.Unlock()
			if err != nil {
				return
			}

		case <-ticker.C:
			if w.closed.Load() {
				return
			}
			w.writeMu.Lock()
			w.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := w.ws.WriteMessage(websocket.PingMessage, nil)
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
