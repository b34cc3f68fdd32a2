package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"callbox/internal/core/domain"
	"callbox/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type OutletConfig struct {
	SubscriberBuffer int
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	// AllowedOrigins lists browser origins consumers may connect from. "*"
	// allows any; requests without an Origin header are always allowed.
	AllowedOrigins []string
}

func DefaultOutletConfig() OutletConfig {
	return OutletConfig{
		SubscriberBuffer: 16,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		AllowedOrigins:   []string{"*"},
	}
}

// SourceInfo is what discovery reports for each open channel.
type SourceInfo struct {
	Name        string `json:"name"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	Subscribers int    `json:"subscribers"`
	Sent        uint64 `json:"buffers_sent"`
	Dropped     uint64 `json:"buffers_dropped"`
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Outlet is the broadcast library the host publishes into. Each open channel
// is a discoverable named source; consumers subscribe over websocket and get
// every planar buffer as one binary message.
type Outlet struct {
	cfg      OutletConfig
	upgrader websocket.Upgrader
	sources  map[string]*Source
	mu       sync.RWMutex
	conns    sync.WaitGroup
	logger   *zap.SugaredLogger
}

var _ ports.BroadcastLibrary = (*Outlet)(nil)

func NewOutlet(cfg OutletConfig, logger *zap.SugaredLogger) *Outlet {
	if cfg.SubscriberBuffer < 1 {
		cfg.SubscriberBuffer = 1
	}
	return &Outlet{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		sources: make(map[string]*Source),
		logger:  logger,
	}
}

// Open registers a named source. Names are unique among open sources.
func (o *Outlet) Open(ctx context.Context, opts domain.SenderOptions) (ports.BroadcastHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Name == "" {
		return nil, errors.New("source name is required")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.sources[opts.Name]; exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrChannelExists, opts.Name)
	}
	src := &Source{
		name:        opts.Name,
		outlet:      o,
		subscribers: make(map[*subscriber]struct{}),
	}
	o.sources[opts.Name] = src

	o.logger.Infow("broadcast source opened",
		"name", opts.Name,
		"clock_audio", opts.ClockAudio,
		"clock_video", opts.ClockVideo,
	)
	return src, nil
}

// Sources lists the open sources sorted by name.
func (o *Outlet) Sources() []SourceInfo {
	o.mu.RLock()
	sources := make([]*Source, 0, len(o.sources))
	for _, src := range o.sources {
		sources = append(sources, src)
	}
	o.mu.RUnlock()

	out := make([]SourceInfo, 0, len(sources))
	for _, src := range sources {
		out = append(out, src.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (o *Outlet) lookup(name string) (*Source, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	src, ok := o.sources[name]
	return src, ok
}

func (o *Outlet) remove(src *Source) {
	o.mu.Lock()
	if o.sources[src.name] == src {
		delete(o.sources, src.name)
	}
	o.mu.Unlock()
}

func (o *Outlet) RegisterRoutes(r gin.IRoutes) {
	r.GET("/sources", o.handleList)
	r.GET("/sources/:name/ws", o.handleSubscribe)
}

func (o *Outlet) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sources": o.Sources()})
}

func (o *Outlet) handleSubscribe(c *gin.Context) {
	name := c.Param("name")
	src, ok := o.lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	}

	conn, err := o.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		o.logger.Errorw("websocket upgrade failed", "source", name, "error", err)
		return
	}
	o.conns.Add(1)
	defer o.conns.Done()
	defer conn.Close()

	sub, err := src.subscribe(o.cfg.SubscriberBuffer)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "source closed"),
			time.Now().Add(o.cfg.WriteTimeout))
		return
	}
	defer src.unsubscribe(sub)

	o.logger.Infow("consumer subscribed", "source", name, "remote", c.Request.RemoteAddr)

	// Consumers never send data; reading only detects disconnects and
	// processes control frames.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(o.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case msg, ok := <-sub.messages:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "source closed"),
					time.Now().Add(o.cfg.WriteTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(o.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				o.logger.Debugw("consumer write failed", "source", name, "error", err)
				return
			}

		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(o.cfg.WriteTimeout)); err != nil {
				return
			}

		case <-gone:
			o.logger.Infow("consumer disconnected", "source", name)
			return
		}
	}
}

// Close closes every open source and waits for consumer sessions to end.
func (o *Outlet) Close() {
	o.mu.Lock()
	sources := make([]*Source, 0, len(o.sources))
	for _, src := range o.sources {
		sources = append(sources, src)
	}
	o.mu.Unlock()

	for _, src := range sources {
		src.Close()
	}
	o.conns.Wait()
}

type subscriber struct {
	messages chan []byte
}

// Source is an open broadcast channel.
type Source struct {
	name   string
	outlet *Outlet

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	closed      bool

	sampleRate atomic.Int32
	channels   atomic.Int32
	sent       atomic.Uint64
	dropped    atomic.Uint64
}

func (s *Source) Name() string {
	return s.name
}

// SendAudio fans buf out to every subscriber. Subscribers whose buffer is
// full miss this buffer.
func (s *Source) SendAudio(buf *domain.PlanarBuffer) error {
	if buf == nil {
		return fmt.Errorf("%w: nil buffer", domain.ErrLayoutMismatch)
	}
	if err := buf.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return domain.ErrChannelClosed
	}

	s.sampleRate.Store(int32(buf.SampleRate))
	s.channels.Store(int32(buf.Channels))
	s.sent.Add(1)

	if len(s.subscribers) == 0 {
		return nil
	}
	msg := EncodeMessage(buf)
	for sub := range s.subscribers {
		select {
		case sub.messages <- msg:
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

// Close withdraws the source from discovery and ends all subscriptions.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for sub := range s.subscribers {
		close(sub.messages)
		delete(s.subscribers, sub)
	}
	s.mu.Unlock()

	s.outlet.remove(s)
	s.outlet.logger.Infow("broadcast source closed",
		"name", s.name,
		"buffers_sent", s.sent.Load(),
		"buffers_dropped", s.dropped.Load(),
	)
	return nil
}

func (s *Source) Info() SourceInfo {
	s.mu.RLock()
	subscribers := len(s.subscribers)
	s.mu.RUnlock()

	return SourceInfo{
		Name:        s.name,
		SampleRate:  int(s.sampleRate.Load()),
		Channels:    int(s.channels.Load()),
		Subscribers: subscribers,
		Sent:        s.sent.Load(),
		Dropped:     s.dropped.Load(),
	}
}

func (s *Source) subscribe(buffer int) (*subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, domain.ErrChannelClosed
	}
	sub := &subscriber{messages: make(chan []byte, buffer)}
	s.subscribers[sub] = struct{}{}
	return sub, nil
}

func (s *Source) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscribers[sub]; ok {
		delete(s.subscribers, sub)
		close(sub.messages)
	}
}
