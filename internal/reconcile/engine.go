package reconcile

import (
	"log"
	"time"

	"github.com/jdavenport/go-listenroom/internal/types"
)

// State is the engine's convergence state. The engine moves between
// Synced, Drifting and Resyncing as drift grows and shrinks; Disconnected
// is terminal until a fresh snapshot arrives.
type State int

const (
	StateUninitialized State = iota
	StateSynced
	StateDrifting
	StateResyncing
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSynced:
		return "synced"
	case StateDrifting:
		return "drifting"
	case StateResyncing:
		return "resyncing"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type Config struct {
	// SmallDriftMs is the dead band: drift below it is jitter and left
	// alone so the engine never micro-seeks constantly.
	SmallDriftMs int64
	// LargeDriftMs is the hard-seek threshold.
	LargeDriftMs int64
	// RateAdjust is the fractional rate nudge used while drifting
	// (0.02 plays 2% fast or slow until drift closes).
	RateAdjust float64
}

func DefaultConfig() Config {
	return Config{
		SmallDriftMs: 300,
		LargeDriftMs: 2000,
		RateAdjust:   0.02,
	}
}

// Engine converges local audio playback onto the authoritative room
// state. It is a single-goroutine state machine: feed it sync-state
// broadcasts via ApplySync, round trips via RecordRTT, and call Tick on
// an interval to run drift checks. It never touches the network itself.
type Engine struct {
	transport AudioTransport
	lat       *LatencyEstimator
	clock     func() time.Time
	log       *log.Logger
	cfg       Config

	state     State
	last      types.PlaybackState
	haveState bool
	// loadedTrackId is the track the transport actually holds. It lags
	// last.TrackId after a failed load, which is the signal to retry.
	loadedTrackId  string
	lastAppliedSeq int64
	// continuity is false right after a (re)connect: sequence numbers
	// only mean anything within one connection, so the first snapshot of
	// a session is always applied.
	continuity   bool
	rateAdjusted bool
	localVolume  float64
}

func NewEngine(transport AudioTransport, logger *log.Logger, cfg Config) *Engine {
	if cfg.SmallDriftMs <= 0 {
		cfg.SmallDriftMs = DefaultConfig().SmallDriftMs
	}
	if cfg.LargeDriftMs <= cfg.SmallDriftMs {
		cfg.LargeDriftMs = DefaultConfig().LargeDriftMs
	}
	if cfg.RateAdjust <= 0 {
		cfg.RateAdjust = DefaultConfig().RateAdjust
	}

	return &Engine{
		transport:   transport,
		lat:         NewLatencyEstimator(),
		clock:       time.Now,
		log:         logger,
		cfg:         cfg,
		state:       StateUninitialized,
		localVolume: 1.0,
	}
}

func (e *Engine) State() State {
	return e.state
}

func (e *Engine) LastSequence() int64 {
	return e.lastAppliedSeq
}

func (e *Engine) Latency() *LatencyEstimator {
	return e.lat
}

// RecordRTT feeds a measured probe round trip into the latency estimate.
func (e *Engine) RecordRTT(rttMs int64) {
	e.lat.AddSample(rttMs)
}

// SetLocalVolume sets the listener's own volume multiplier, applied on
// top of the host's advisory volume.
func (e *Engine) SetLocalVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.localVolume = v
	if e.haveState {
		e.transport.SetVolume(e.last.Volume * e.localVolume)
	}
}

// ResetSession drops sequence continuity and the latency estimate.
// Called on every reconnect, before requesting a fresh snapshot.
func (e *Engine) ResetSession() {
	e.continuity = false
	e.lat.Reset()
}

// MarkDisconnected pauses local audio rather than letting it run
// unsynchronized. The engine recovers when the next snapshot is applied.
func (e *Engine) MarkDisconnected() {
	if e.haveState {
		e.transport.Pause()
	}
	e.setState(StateDisconnected)
}

// ApplySync applies an authoritative full-state broadcast. Stale or
// duplicate broadcasts (sequence at or below the last applied one within
// the same session) are discarded. Returns whether the state was applied.
func (e *Engine) ApplySync(s types.PlaybackState) bool {
	if e.continuity && s.Sequence <= e.lastAppliedSeq {
		return false
	}
	e.continuity = true
	e.lastAppliedSeq = s.Sequence

	prev := e.last
	hadState := e.haveState
	e.last = s
	e.haveState = true

	nowMs := e.clock().UnixMilli()
	target := e.targetPosition(nowMs)

	e.transport.SetVolume(s.Volume * e.localVolume)

	trackChanged := !hadState || s.TrackId != prev.TrackId
	if trackChanged || s.TrackId != e.loadedTrackId {
		e.resetRate()
		if s.TrackId == "" {
			e.loadedTrackId = ""
			e.transport.Pause()
			e.setState(StateSynced)
			return true
		}

		e.loadTrack(target)
		return true
	}

	// play/pause edges are applied immediately and authoritatively;
	// instantaneous correctness beats smoothness for start/stop
	if s.IsPlaying != prev.IsPlaying {
		e.resetRate()
		if s.IsPlaying {
			e.transport.SeekTo(target)
			e.transport.Play()
		} else {
			e.transport.Pause()
			e.transport.SeekTo(s.PositionMs)
		}
		e.setState(StateSynced)
		return true
	}

	e.reconcile(nowMs)
	return true
}

// Tick runs a drift check against the transport's reported position.
// Call it on a fixed interval while connected.
func (e *Engine) Tick() {
	if !e.haveState || e.state == StateDisconnected {
		return
	}

	e.reconcile(e.clock().UnixMilli())
}

// TargetPositionMs exposes the current target for diagnostics.
func (e *Engine) TargetPositionMs() (int64, bool) {
	if !e.haveState {
		return 0, false
	}
	return e.targetPosition(e.clock().UnixMilli()), true
}

// targetPosition is the authoritative position at local time nowMs: the
// broadcast position advanced by elapsed wall-clock time plus the one-way
// transit estimate.
func (e *Engine) targetPosition(nowMs int64) int64 {
	if !e.last.IsPlaying {
		return e.last.PositionMs
	}

	pos := e.last.PositionMs + (nowMs - e.last.UpdatedAtMs) + e.lat.OneWayMs()
	if pos < 0 {
		pos = 0
	}
	if e.last.DurationMs > 0 && pos > e.last.DurationMs {
		pos = e.last.DurationMs
	}
	return pos
}

// loadTrack (re)loads the authoritative track at the target position.
// On failure loadedTrackId keeps its old value, so the next broadcast or
// tick retries instead of leaving the listener silent on a transient
// stream error.
func (e *Engine) loadTrack(target int64) {
	if err := e.transport.Load(e.last.TrackId, target); err != nil {
		e.log.Printf("load track %q: %v", e.last.TrackId, err)
		e.setState(StateResyncing)
		return
	}

	e.loadedTrackId = e.last.TrackId
	if e.last.IsPlaying {
		e.transport.Play()
	} else {
		e.transport.Pause()
	}
	e.setState(StateSynced)
}

func (e *Engine) reconcile(nowMs int64) {
	if e.last.TrackId == "" {
		e.setState(StateSynced)
		return
	}

	target := e.targetPosition(nowMs)
	if e.loadedTrackId != e.last.TrackId {
		// drift against an unloaded transport is meaningless
		e.loadTrack(target)
		return
	}

	actual := e.transport.PositionMs()
	diff := target - actual
	drift := diff
	if drift < 0 {
		drift = -drift
	}

	switch {
	case drift >= e.cfg.LargeDriftMs:
		// hopeless to smooth; one hard seek and done
		e.resetRate()
		e.transport.SeekTo(target)
		e.setState(StateResyncing)
	case drift >= e.cfg.SmallDriftMs:
		if !e.last.IsPlaying {
			// nothing is advancing; a quiet seek is the only correction
			e.transport.SeekTo(target)
			e.setState(StateSynced)
			return
		}

		rate := 1.0 + e.cfg.RateAdjust
		if diff < 0 {
			rate = 1.0 - e.cfg.RateAdjust
		}
		e.transport.SetRate(rate)
		e.rateAdjusted = true
		e.setState(StateDrifting)
	default:
		if e.rateAdjusted {
			// keep nudging until drift has closed well under the dead
			// band, then settle back to normal speed
			if drift*2 <= e.cfg.SmallDriftMs {
				e.resetRate()
				e.setState(StateSynced)
			}
			return
		}
		e.setState(StateSynced)
	}
}

func (e *Engine) resetRate() {
	if e.rateAdjusted {
		e.transport.SetRate(1.0)
		e.rateAdjusted = false
	}
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}

	e.log.Printf("reconcile: %s -> %s", e.state, s)
	e.state = s
}
