package ports

// PipelineMetrics records pipeline events. Implementations must be cheap and
// safe to call from the audio clock goroutine.
type PipelineMetrics interface {
	FrameEmitted()
	FrameDropped(stage string)
	FrameSent(bytes int)
	SendFailed()
	SourcesChanged(registered, connected int)
	BroadcastActive(active bool)
	GainChanged(percent int)
}
