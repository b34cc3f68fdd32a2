package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"callbox/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// IngestPath is where the host accepts frames from a capture process.
const IngestPath = "/ws/frames"

type IngestConfig struct {
	ReadLimit         int64
	MessagesPerSecond float64
	Burst             int
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// DefaultIngestConfig allows one block of 4096 stereo samples per message at
// roughly twice the nominal ~11.7 Hz block rate.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		ReadLimit:         HeaderSize + 4096*2*4 + 1024,
		MessagesPerSecond: 25,
		Burst:             10,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 1024,
}

// IngestServer is the privileged end of the cross-process frame transport.
// Each authenticated capture session streams binary frames that are decoded
// and handed to the sink; nothing is ever written back except pings.
type IngestServer struct {
	cfg     IngestConfig
	auth    *TokenAuthority
	sink    ports.FrameSink
	metrics ports.PipelineMetrics

	connections map[string]*websocket.Conn
	mu          sync.RWMutex
	sessions    sync.WaitGroup

	logger *zap.SugaredLogger
}

func NewIngestServer(
	cfg IngestConfig,
	auth *TokenAuthority,
	sink ports.FrameSink,
	metrics ports.PipelineMetrics,
	logger *zap.SugaredLogger,
) *IngestServer {
	return &IngestServer{
		cfg:         cfg,
		auth:        auth,
		sink:        sink,
		metrics:     metrics,
		connections: make(map[string]*websocket.Conn),
		logger:      logger,
	}
}

func (s *IngestServer) RegisterRoutes(r gin.IRoutes) {
	r.GET(IngestPath, gin.WrapF(s.HandleWebSocket))
}

func (s *IngestServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token, err := BearerToken(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	claims, err := s.auth.Verify(token)
	if err != nil {
		s.logger.Warnw("rejected frame uplink", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	sessionID := claims.SessionID

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	s.sessions.Add(1)
	defer s.sessions.Done()
	defer conn.Close()

	// A reconnecting session replaces its previous connection
	s.mu.Lock()
	existingConn, isReconnect := s.connections[sessionID]
	if isReconnect && existingConn != nil {
		existingConn.Close()
		s.logger.Infow("closing old connection for reconnecting session", "session_id", sessionID)
	}
	s.connections[sessionID] = conn
	s.mu.Unlock()

	s.logger.Infow("capture session connected", "session_id", sessionID, "reconnect", isReconnect)

	conn.SetReadLimit(s.cfg.ReadLimit)
	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)
	messageChan := make(chan []byte, 10)
	errorChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			if messageType != websocket.BinaryMessage {
				continue
			}
			select {
			case messageChan <- data:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case data := <-messageChan:
			if !limiter.Allow() {
				s.metrics.FrameDropped("ingest")
				continue
			}
			frame, err := DecodeFrame(data)
			if err != nil {
				s.logger.Warnw("closing session after malformed frame", "session_id", sessionID, "error", err)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "malformed frame"),
					time.Now().Add(s.cfg.WriteTimeout))
				goto cleanup
			}
			s.sink.Send(frame)

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "session_id", sessionID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading frames from session", "session_id", sessionID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.mu.Lock()
	if s.connections[sessionID] == conn {
		delete(s.connections, sessionID)
	}
	s.mu.Unlock()

	s.logger.Infow("capture session disconnected", "session_id", sessionID)
}

// ConnectionCount returns the number of live capture sessions.
func (s *IngestServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Close drops every session and waits for their handlers to return.
func (s *IngestServer) Close() error {
	s.mu.Lock()
	var errs []error
	for _, conn := range s.connections {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.mu.Unlock()

	s.sessions.Wait()
	return errors.Join(errs...)
}
