package server

import (
	"github.com/jdavenport/go-listenroom/internal/catalog"
	"github.com/jdavenport/go-listenroom/internal/types"
)

// playbackState is the authoritative playback record for one room. It is
// owned exclusively by the room goroutine; every mutation sets position,
// playing flag and updated-at together and bumps the sequence by exactly
// one, so no observer can see a partial update.
type playbackState struct {
	roomId      string
	trackId     string
	durationMs  int64
	playing     bool
	positionMs  int64
	volume      float64
	updatedAtMs int64
	seq         int64
}

func newPlaybackState(roomId string) *playbackState {
	return &playbackState{
		roomId: roomId,
		volume: 1.0,
	}
}

// positionAt computes the instantaneous position at nowMs. While playing
// the position advances in real time from the last authoritative update.
func (s *playbackState) positionAt(nowMs int64) int64 {
	if !s.playing {
		return s.positionMs
	}

	pos := s.positionMs + (nowMs - s.updatedAtMs)
	if pos < 0 {
		pos = 0
	}
	if s.durationMs > 0 && pos > s.durationMs {
		pos = s.durationMs
	}
	return pos
}

// setPlaying freezes or resumes playback at the instantaneous position,
// so a pause issued mid-playback records where playback actually was, not
// where the last broadcast put it.
func (s *playbackState) setPlaying(playing bool, nowMs int64) {
	s.positionMs = s.positionAt(nowMs)
	s.playing = playing
	s.updatedAtMs = nowMs
	s.seq++
}

func (s *playbackState) seekTo(positionMs, nowMs int64) {
	s.positionMs = positionMs
	s.updatedAtMs = nowMs
	s.seq++
}

func (s *playbackState) setTrack(track *catalog.Track, autoPlay bool, nowMs int64) {
	s.trackId = track.Id
	s.durationMs = track.DurationMs
	s.positionMs = 0
	s.playing = autoPlay
	s.updatedAtMs = nowMs
	s.seq++
}

func (s *playbackState) setVolume(volume float64) {
	s.volume = volume
	s.seq++
}

// snapshot returns a read-only copy safe to hand to the fan-out.
func (s *playbackState) snapshot() types.PlaybackState {
	return types.PlaybackState{
		RoomId:      s.roomId,
		TrackId:     s.trackId,
		IsPlaying:   s.playing,
		PositionMs:  s.positionMs,
		DurationMs:  s.durationMs,
		Volume:      s.volume,
		UpdatedAtMs: s.updatedAtMs,
		Sequence:    s.seq,
	}
}
