package signal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/core/ports"
	"rendezvous/internal/infrastructure/middleware"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	SendQueueSize   int
	MaxMessageBytes int64
	AllowedOrigins  []string

	// EventsPerSecond limits inbound frames per connection; zero disables it.
	EventsPerSecond float64
	EventBurst      int
}

func DefaultConfig() Config {
	return Config{
		PingInterval:    25 * time.Second,
		PongTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		SendQueueSize:   64,
		MaxMessageBytes: 1 << 20,
	}
}

type errorPayload struct {
	Message string `json:"message"`
}

// WebSocketServer owns the client connections and implements ports.Transport
// for the signaling service. Each connection has a reader running on the
// handler goroutine and a writer goroutine draining a bounded send queue, so
// Send and Broadcast never wait on the network.
type WebSocketServer struct {
	service  ports.SignalingService
	upgrader websocket.Upgrader
	cfg      Config

	connections map[domain.ConnectionID]*connection
	mu          sync.RWMutex

	logger *zap.SugaredLogger
}

type connection struct {
	id      domain.ConnectionID
	ws      *websocket.Conn
	send    chan []byte
	closing chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.closing)
	})
}

func NewWebSocketServer(cfg Config, logger *zap.SugaredLogger) *WebSocketServer {
	defaults := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = cfg.PingInterval * 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaults.SendQueueSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &WebSocketServer{
		cfg:         cfg,
		connections: make(map[domain.ConnectionID]*connection),
		logger:      logger,
	}

	allowed := middleware.NewOriginSet(cfg.AllowedOrigins)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed.Allows(origin)
		},
	}
	return s
}

// Attach sets the service that receives connection events. It must be
// called before the server accepts connections.
func (s *WebSocketServer) Attach(service ports.SignalingService) {
	s.service = service
}

// HandleWebSocket upgrades an already authenticated request and serves the
// connection until either side closes it.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "signaling service not attached", http.StatusServiceUnavailable)
		return
	}

	var header http.Header
	for _, proto := range websocket.Subprotocols(r) {
		if strings.HasPrefix(proto, middleware.TokenSubprotocolPrefix) {
			// Browsers drop the socket unless the offered protocol is echoed.
			header = http.Header{"Sec-Websocket-Protocol": {proto}}
			break
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := &connection{
		id:      domain.ConnectionID(uuid.NewString()),
		ws:      ws,
		send:    make(chan []byte, s.cfg.SendQueueSize),
		closing: make(chan struct{}),
	}
	if s.cfg.EventsPerSecond > 0 {
		burst := s.cfg.EventBurst
		if burst <= 0 {
			burst = int(s.cfg.EventsPerSecond) + 1
		}
		conn.limiter = rate.NewLimiter(rate.Limit(s.cfg.EventsPerSecond), burst)
	}

	s.mu.Lock()
	s.connections[conn.id] = conn
	s.mu.Unlock()

	s.logger.Debugw("websocket connected", "connection_id", conn.id, "remote_addr", r.RemoteAddr)
	s.service.Connect(conn.id)

	go s.writePump(conn)
	s.readPump(conn)

	s.mu.Lock()
	delete(s.connections, conn.id)
	s.mu.Unlock()
	conn.close()

	s.service.Disconnect(conn.id)
}

func (s *WebSocketServer) readPump(conn *connection) {
	if s.cfg.MaxMessageBytes > 0 {
		conn.ws.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	conn.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Infow("websocket read failed", "connection_id", conn.id, "error", err)
			}
			return
		}
		conn.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if conn.limiter != nil && !conn.limiter.Allow() {
			s.logger.Warnw("inbound event dropped, rate limit exceeded", "connection_id", conn.id)
			continue
		}

		var env domain.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			s.logger.Debugw("unparseable frame", "connection_id", conn.id, "size", len(raw))
			s.Send(conn.id, domain.EventError, errorPayload{Message: "frames must be {\"event\": string, \"data\": any}"})
			continue
		}
		s.service.Dispatch(conn.id, env.Event, env.Data)
	}
}

func (s *WebSocketServer) writePump(conn *connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case frame := <-conn.send:
			if err := s.write(conn, websocket.TextMessage, frame); err != nil {
				s.logger.Debugw("websocket write failed", "connection_id", conn.id, "error", err)
				conn.close()
				return
			}

		case <-ticker.C:
			if err := s.write(conn, websocket.PingMessage, nil); err != nil {
				s.logger.Debugw("keepalive ping failed", "connection_id", conn.id, "error", err)
				conn.close()
				return
			}

		case <-conn.closing:
			// Frames queued before the close (a uniqueness error, say) still go out.
		drain:
			for {
				select {
				case frame := <-conn.send:
					if err := s.write(conn, websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					break drain
				}
			}
			s.write(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *WebSocketServer) write(conn *connection, messageType int, data []byte) error {
	conn.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.ws.WriteMessage(messageType, data)
}

func encodeFrame(event string, data interface{}) ([]byte, error) {
	var payload json.RawMessage
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		payload = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		payload = encoded
	}
	return json.Marshal(domain.Envelope{Event: event, Data: payload})
}

func (s *WebSocketServer) enqueue(conn *connection, frame []byte) error {
	select {
	case <-conn.closing:
		return domain.ErrConnectionClosed
	default:
	}

	select {
	case conn.send <- frame:
		return nil
	default:
		return domain.ErrSendQueueFull
	}
}

func (s *WebSocketServer) Send(connID domain.ConnectionID, event string, data interface{}) error {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return err
	}

	s.mu.RLock()
	conn, ok := s.connections[connID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrConnectionClosed, connID)
	}
	return s.enqueue(conn, frame)
}

func (s *WebSocketServer) Broadcast(except domain.ConnectionID, event string, data interface{}) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		s.logger.Warnw("broadcast dropped", "event", event, "error", err)
		return
	}

	s.mu.RLock()
	targets := make([]*connection, 0, len(s.connections))
	for id, conn := range s.connections {
		if id != except {
			targets = append(targets, conn)
		}
	}
	s.mu.RUnlock()

	for _, conn := range targets {
		if err := s.enqueue(conn, frame); err != nil {
			s.logger.Debugw("broadcast frame dropped", "connection_id", conn.id, "event", event, "error", err)
		}
	}
}

// Disconnect flushes whatever is queued for the connection, sends a close
// frame and drops it. The reader then notices and reports the departure.
func (s *WebSocketServer) Disconnect(connID domain.ConnectionID) error {
	s.mu.RLock()
	conn, ok := s.connections[connID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrConnectionClosed, connID)
	}
	conn.close()
	return nil
}

// ConnectionCount returns the number of open sockets, registered or not.
func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Shutdown closes every connection.
func (s *WebSocketServer) Shutdown() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conn := range s.connections {
		conn.close()
	}
}
