package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"callbox/internal/core/domain"
	"callbox/internal/core/ports"
	"callbox/pkg/optimize"
	"callbox/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type UplinkConfig struct {
	URL          string
	SessionID    string
	QueueSize    int
	Policy       DropPolicy
	WriteTimeout time.Duration
	DialTimeout  time.Duration
	Retry        retry.Config
}

func DefaultUplinkConfig() UplinkConfig {
	backoff := retry.DefaultConfig()
	backoff.MaxAttempts = 5
	backoff.InitialDelay = 250 * time.Millisecond
	backoff.MaxDelay = 10 * time.Second

	return UplinkConfig{
		URL:          "ws://127.0.0.1:8080" + IngestPath,
		QueueSize:    8,
		Policy:       DropOldest,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
		Retry:        backoff,
	}
}

// Uplink is the untrusted end of the cross-process transport. Send enqueues
// into a bounded queue; Run owns the websocket and writes frames in order,
// reconnecting with backoff. While disconnected the queue simply drops.
type Uplink struct {
	cfg     UplinkConfig
	auth    *TokenAuthority
	queue   *Queue
	pool    *optimize.BytePool
	metrics ports.PipelineMetrics
	dialer  *websocket.Dialer
	logger  *zap.SugaredLogger
}

func NewUplink(
	cfg UplinkConfig,
	auth *TokenAuthority,
	metrics ports.PipelineMetrics,
	logger *zap.SugaredLogger,
) *Uplink {
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			logger.Debugw("frame uplink dial failed, retrying",
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}
	}
	return &Uplink{
		cfg:     cfg,
		auth:    auth,
		queue:   NewQueue("uplink", cfg.QueueSize, cfg.Policy, metrics),
		pool:    optimize.NewBytePool(HeaderSize + domain.BlockSize*domain.Channels*domain.BytesPerSample),
		metrics: metrics,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
			WriteBufferSize:  64 * 1024,
		},
		logger: logger,
	}
}

// Send never blocks.
func (u *Uplink) Send(frame domain.AudioFrame) {
	u.queue.Send(frame)
}

// Run keeps a connection to the host open until ctx is cancelled.
func (u *Uplink) Run(ctx context.Context) {
	defer u.queue.Close()

	for ctx.Err() == nil {
		conn, err := retry.DoValue(ctx, u.cfg.Retry, func() (*websocket.Conn, error) {
			return u.dial(ctx)
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			u.logger.Warnw("frame uplink unavailable, backing off", "url", u.cfg.URL, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(u.cfg.Retry.MaxDelay):
			}
			continue
		}

		u.logger.Infow("frame uplink connected", "url", u.cfg.URL, "session_id", u.cfg.SessionID)
		if err := u.pump(ctx, conn); err != nil {
			u.logger.Infow("frame uplink disconnected", "url", u.cfg.URL, "error", err)
		}
	}
}

func (u *Uplink) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := u.auth.Issue(u.cfg.SessionID)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := u.dialer.DialContext(ctx, u.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", u.cfg.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", u.cfg.URL, err)
	}
	return conn, nil
}

// pump writes queued frames until the connection fails or ctx ends.
func (u *Uplink) pump(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	// Control frames (ping, close) are only processed while reading.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(u.cfg.WriteTimeout))
			return nil

		case err := <-readErr:
			return err

		case frame, ok := <-u.queue.Frames():
			if !ok {
				return nil
			}
			if err := u.write(conn, frame); err != nil {
				u.metrics.FrameDropped("uplink")
				return err
			}
		}
	}
}

func (u *Uplink) write(conn *websocket.Conn, frame domain.AudioFrame) error {
	data, err := AppendFrame(u.pool.Get(), frame)
	if err != nil {
		// malformed frames are skipped, the connection stays up
		u.metrics.FrameDropped("uplink")
		return nil
	}
	defer u.pool.Put(data)

	conn.SetWriteDeadline(time.Now().Add(u.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, data)
}
