package reconcile

// AudioTransport is the local playback device the engine drives. All
// positions are milliseconds into the current track. Implementations are
// expected to be cheap to call; the engine may invoke them on every
// reconciliation pass.
type AudioTransport interface {
	// Load tears down the current source and loads the track at startMs,
	// paused. Resolution of the track id to a stream is up to the
	// implementation.
	Load(trackId string, startMs int64) error
	Play()
	Pause()
	SeekTo(positionMs int64)
	// SetRate adjusts the playback rate (1.0 is normal speed). Used for
	// small drift corrections that should not be audible as jumps.
	SetRate(rate float64)
	SetVolume(volume float64)
	PositionMs() int64
}
