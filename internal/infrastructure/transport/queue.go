package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"callbox/internal/core/domain"
	"callbox/internal/core/ports"
)

// DropPolicy selects which frame is lost when the queue is full.
type DropPolicy int

const (
	// DropNewest discards the frame being sent.
	DropNewest DropPolicy = iota
	// DropOldest evicts the head of the queue to make room.
	DropOldest
)

func (p DropPolicy) String() string {
	switch p {
	case DropNewest:
		return "drop_newest"
	case DropOldest:
		return "drop_oldest"
	default:
		return "unknown"
	}
}

// ParseDropPolicy accepts the names produced by String.
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop_newest", "newest":
		return DropNewest, nil
	case "drop_oldest", "oldest":
		return DropOldest, nil
	default:
		return DropNewest, fmt.Errorf("unknown drop policy %q", s)
	}
}

// Queue is the in-process frame transport: a fixed-capacity FIFO whose Send
// never blocks. Frames that do not fit are dropped according to the policy
// and counted, never logged.
type Queue struct {
	stage   string
	policy  DropPolicy
	frames  chan domain.AudioFrame
	metrics ports.PipelineMetrics

	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a queue holding at most capacity frames. stage labels the
// drop counter.
func NewQueue(stage string, capacity int, policy DropPolicy, metrics ports.PipelineMetrics) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		stage:   stage,
		policy:  policy,
		frames:  make(chan domain.AudioFrame, capacity),
		metrics: metrics,
	}
}

// Send enqueues frame without blocking. It is safe to call after Close.
func (q *Queue) Send(frame domain.AudioFrame) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.metrics.FrameDropped(q.stage)
		return
	}

	select {
	case q.frames <- frame:
		return
	default:
	}

	if q.policy == DropOldest {
		select {
		case <-q.frames:
			q.metrics.FrameDropped(q.stage)
		default:
		}
		select {
		case q.frames <- frame:
			return
		default:
		}
	}

	q.metrics.FrameDropped(q.stage)
}

// Frames exposes the receive side. It is closed by Close.
func (q *Queue) Frames() <-chan domain.AudioFrame {
	return q.frames
}

// Drain calls fn for every frame until ctx is done or the queue is closed.
func (q *Queue) Drain(ctx context.Context, fn func(domain.AudioFrame)) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-q.frames:
			if !ok {
				return
			}
			fn(frame)
		}
	}
}

func (q *Queue) Len() int {
	return len(q.frames)
}

func (q *Queue) Cap() int {
	return cap(q.frames)
}

// Close stops accepting frames. Frames already queued can still be received.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.frames)
}
