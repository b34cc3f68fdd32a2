package webrtc

import (
	"fmt"
	"sync"

	"callbox/internal/core/domain"
	"callbox/internal/core/ports"
	"callbox/internal/core/services"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// CapturedSource is a MediaSource that starts reading once it is registered.
type CapturedSource interface {
	ports.MediaSource
	Start(onEnded func(domain.StreamID))
}

type SourceFactory interface {
	NewSource(id domain.StreamID, track RemoteTrack) (CapturedSource, error)
}

// Interceptor discovers inbound audio streams on every observed connection,
// registers each stream id once and routes it to the capture graph. Streams
// are deregistered when their track ends or their connection closes. Release
// is by source, not by id, so a late end from a replaced source cannot take
// down the stream that now owns the id.
type Interceptor struct {
	registry *services.StreamRegistry
	router   ports.SourceRouter
	factory  SourceFactory
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	byConn   map[string][]CapturedSource
	degraded map[string]bool
}

func NewInterceptor(
	registry *services.StreamRegistry,
	router ports.SourceRouter,
	factory SourceFactory,
	logger *zap.SugaredLogger,
) *Interceptor {
	return &Interceptor{
		registry: registry,
		router:   router,
		factory:  factory,
		logger:   logger,
		byConn:   make(map[string][]CapturedSource),
		degraded: make(map[string]bool),
	}
}

// OnTrackAdded handles a newly negotiated track on connection connID. The
// track feeds the first listed stream that is not yet registered; anything
// that is not captured is drained.
func (i *Interceptor) OnTrackAdded(connID string, track RemoteTrack, streamIDs []string) {
	captured := false
	defer func() {
		if r := recover(); r != nil {
			i.degrade(connID, fmt.Errorf("panic while observing track %s: %v", track.ID(), r))
		}
		if !captured {
			go drainTrack(track)
		}
	}()

	if track.Kind() != webrtc.RTPCodecTypeAudio {
		i.logger.Debugw("skipping non-audio track",
			"conn_id", connID,
			"track_id", track.ID(),
			"kind", track.Kind().String(),
		)
		return
	}

	for _, sid := range streamIDs {
		id := domain.StreamID(sid)
		if id == "" || i.registry.Contains(id) {
			continue
		}

		src, err := i.factory.NewSource(id, track)
		if err != nil {
			i.degrade(connID, fmt.Errorf("stream %s: %w", id, err))
			return
		}
		if !i.registry.Register(src) {
			src.Close()
			continue
		}

		i.mu.Lock()
		i.byConn[connID] = append(i.byConn[connID], src)
		i.mu.Unlock()

		i.router.Route(src)
		src.Start(func(domain.StreamID) { i.release(src) })
		captured = true

		i.logger.Infow("audio stream registered",
			"conn_id", connID,
			"stream_id", id,
			"track_id", track.ID(),
			"registered", i.registry.Len(),
		)
		return
	}

	i.logger.Debugw("audio track carries no new stream",
		"conn_id", connID,
		"track_id", track.ID(),
		"streams", streamIDs,
	)
}

// OnConnectionClosed deregisters every stream observed on connID.
func (i *Interceptor) OnConnectionClosed(connID string) {
	i.mu.Lock()
	sources := i.byConn[connID]
	delete(i.byConn, connID)
	delete(i.degraded, connID)
	i.mu.Unlock()

	for _, src := range sources {
		i.release(src)
	}
	if len(sources) > 0 {
		i.logger.Infow("connection closed, streams released", "conn_id", connID, "streams", len(sources))
	}
}

// release deregisters and closes src if it still owns its id. A source that
// was already released is left alone.
func (i *Interceptor) release(src CapturedSource) {
	if !i.registry.DeregisterSource(src) {
		return
	}
	i.router.Unroute(src.ID())
	src.Close()

	i.logger.Infow("audio stream deregistered", "stream_id", src.ID(), "registered", i.registry.Len())
}

// degrade logs an instrumentation failure once per connection. The affected
// stream is simply not captured.
func (i *Interceptor) degrade(connID string, err error) {
	i.mu.Lock()
	seen := i.degraded[connID]
	i.degraded[connID] = true
	i.mu.Unlock()

	if !seen {
		i.logger.Errorw("stream capture unavailable on connection", "conn_id", connID, "error", err)
	}
}
