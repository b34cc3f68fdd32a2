package services

import (
	"sync"
	"time"

	"callbox/internal/core/ports"
)

// PipelineStats is a point-in-time view of the pipeline counters.
type PipelineStats struct {
	FramesEmitted     int64            `json:"frames_emitted"`
	FramesSent        int64            `json:"frames_sent"`
	BytesSent         int64            `json:"bytes_sent"`
	SendFailures      int64            `json:"send_failures"`
	FramesDropped     map[string]int64 `json:"frames_dropped"`
	RegisteredSources int              `json:"registered_sources"`
	ConnectedSources  int              `json:"connected_sources"`
	BroadcastActive   bool             `json:"broadcast_active"`
	GainPercent       int              `json:"gain_percent"`
	HealthScore       float64          `json:"health_score"`
	Timestamp         time.Time        `json:"timestamp"`
}

// MetricsService keeps in-memory pipeline counters and forwards every event to
// an optional downstream recorder (the prometheus collector in production).
type MetricsService struct {
	mu sync.RWMutex

	next ports.PipelineMetrics

	framesEmitted int64
	framesSent    int64
	bytesSent     int64
	sendFailures  int64
	framesDropped map[string]int64
	registered    int
	connected     int
	broadcasting  bool
	gainPercent   int
}

func NewMetricsService(next ports.PipelineMetrics) *MetricsService {
	return &MetricsService{
		next:          next,
		framesDropped: make(map[string]int64),
		gainPercent:   100,
	}
}

func (m *MetricsService) FrameEmitted() {
	m.mu.Lock()
	m.framesEmitted++
	m.mu.Unlock()
	if m.next != nil {
		m.next.FrameEmitted()
	}
}

func (m *MetricsService) FrameDropped(stage string) {
	m.mu.Lock()
	m.framesDropped[stage]++
	m.mu.Unlock()
	if m.next != nil {
		m.next.FrameDropped(stage)
	}
}

func (m *MetricsService) FrameSent(bytes int) {
	m.mu.Lock()
	m.framesSent++
	m.bytesSent += int64(bytes)
	m.mu.Unlock()
	if m.next != nil {
		m.next.FrameSent(bytes)
	}
}

func (m *MetricsService) SendFailed() {
	m.mu.Lock()
	m.sendFailures++
	m.mu.Unlock()
	if m.next != nil {
		m.next.SendFailed()
	}
}

func (m *MetricsService) SourcesChanged(registered, connected int) {
	m.mu.Lock()
	m.registered = registered
	m.connected = connected
	m.mu.Unlock()
	if m.next != nil {
		m.next.SourcesChanged(registered, connected)
	}
}

func (m *MetricsService) BroadcastActive(active bool) {
	m.mu.Lock()
	m.broadcasting = active
	m.mu.Unlock()
	if m.next != nil {
		m.next.BroadcastActive(active)
	}
}

func (m *MetricsService) GainChanged(percent int) {
	m.mu.Lock()
	m.gainPercent = percent
	m.mu.Unlock()
	if m.next != nil {
		m.next.GainChanged(percent)
	}
}

// Snapshot returns a copy of the current counters.
func (m *MetricsService) Snapshot() PipelineStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dropped := make(map[string]int64, len(m.framesDropped))
	var totalDropped int64
	for stage, n := range m.framesDropped {
		dropped[stage] = n
		totalDropped += n
	}

	return PipelineStats{
		FramesEmitted:     m.framesEmitted,
		FramesSent:        m.framesSent,
		BytesSent:         m.bytesSent,
		SendFailures:      m.sendFailures,
		FramesDropped:     dropped,
		RegisteredSources: m.registered,
		ConnectedSources:  m.connected,
		BroadcastActive:   m.broadcasting,
		GainPercent:       m.gainPercent,
		HealthScore:       m.calculateHealthScore(totalDropped),
		Timestamp:         time.Now(),
	}
}

func (m *MetricsService) calculateHealthScore(dropped int64) float64 {
	if m.framesEmitted == 0 && m.framesSent == 0 {
		return 100.0
	}

	total := m.framesEmitted
	if m.framesSent > total {
		total = m.framesSent
	}
	lossScore := 60.0 * (1 - float64(dropped)/float64(total+dropped))

	failureScore := 40.0
	if m.framesSent > 0 {
		failureScore *= 1 - float64(m.sendFailures)/float64(m.framesSent+m.sendFailures)
	} else if m.sendFailures > 0 {
		failureScore = 0
	}

	score := lossScore + failureScore
	if score < 0 {
		return 0
	}
	return score
}

type nopMetrics struct{}

func (nopMetrics) FrameEmitted()           {}
func (nopMetrics) FrameDropped(string)     {}
func (nopMetrics) FrameSent(int)           {}
func (nopMetrics) SendFailed()             {}
func (nopMetrics) SourcesChanged(int, int) {}
func (nopMetrics) BroadcastActive(bool)    {}
func (nopMetrics) GainChanged(int)         {}
