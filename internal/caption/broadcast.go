package caption

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message is the JSON envelope pushed to caption subscribers
type Message struct {
	Type    string        `json:"type"` // "caption" or "error"
	Caption *CaptionEvent `json:"caption,omitempty"`
	Error   *ErrorEvent   `json:"error,omitempty"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Broadcaster pushes events to websocket subscribers. A subscriber that
// cannot keep up is disconnected.
type Broadcaster struct {
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	sendBuffer int

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

// NewBroadcaster creates a broadcaster; mount it as an http.Handler
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:      logger.With(slog.String("component", "captions")),
		sendBuffer:  32,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("Caption subscriber upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, b.sendBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.subscribers[sub] = struct{}{}
	count := len(b.subscribers)
	b.mu.Unlock()

	b.logger.Info("Caption subscriber connected",
		slog.String("remote", r.RemoteAddr),
		slog.Int("subscribers", count))

	go b.writeLoop(sub)
	b.readLoop(sub)
}

// readLoop discards client messages and detects disconnects
func (b *Broadcaster) readLoop(sub *subscriber) {
	defer b.remove(sub)

	sub.conn.SetReadLimit(512)
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (b *Broadcaster) remove(sub *subscriber) {
	b.mu.Lock()
	_, ok := b.subscribers[sub]
	delete(b.subscribers, sub)
	b.mu.Unlock()

	if ok {
		sub.close()
		b.logger.Debug("Caption subscriber disconnected")
	}
}

// OnCaption sends ev to every connected client
func (b *Broadcaster) OnCaption(ev CaptionEvent) {
	b.broadcast(Message{Type: "caption", Caption: &ev})
}

// OnError sends ev to every connected client
func (b *Broadcaster) OnError(ev ErrorEvent) {
	b.broadcast(Message{Type: "error", Error: &ev})
}

func (b *Broadcaster) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("Failed to encode caption message", slog.String("error", err.Error()))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		select {
		case sub.send <- data:
		default:
			delete(b.subscribers, sub)
			sub.close()
			b.logger.Warn("Caption subscriber too slow, disconnecting")
		}
	}
}

// Subscribers returns the number of connected clients
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close disconnects every subscriber and rejects new ones
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		sub.close()
	}
}
