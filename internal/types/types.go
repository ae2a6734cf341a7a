package types

import "time"

// User is an authenticated account as the catalog collaborator knows it.
type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Participant is one connected member of a room, host or listener.
type Participant struct {
	Id              int    `json:"id"`
	DisplayName     string `json:"display_name"`
	IsHost          bool   `json:"is_host"`
	IsMuted         bool   `json:"is_muted"`
	HandRaised      bool   `json:"hand_raised"`
	JoinedAtMs      int64  `json:"joined_at_ms"`
	ConnectionEpoch int    `json:"connection_epoch"`
}

// PlaybackState is the full authoritative playback state of a room.
// While IsPlaying is true the instantaneous position at wall-clock time t
// is PositionMs + (t - UpdatedAtMs); when paused it is PositionMs.
type PlaybackState struct {
	RoomId      string  `json:"room_id"`
	TrackId     string  `json:"track_id,omitempty"`
	IsPlaying   bool    `json:"is_playing"`
	PositionMs  int64   `json:"position_ms"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
	Volume      float64 `json:"volume"`
	UpdatedAtMs int64   `json:"updated_at_ms"`
	Sequence    int64   `json:"sequence"`
}

// PositionAt returns the instantaneous playback position at nowMs.
func (s PlaybackState) PositionAt(nowMs int64) int64 {
	if !s.IsPlaying {
		return s.PositionMs
	}

	pos := s.PositionMs + (nowMs - s.UpdatedAtMs)
	if pos < 0 {
		pos = 0
	}
	if s.DurationMs > 0 && pos > s.DurationMs {
		pos = s.DurationMs
	}
	return pos
}

// Track is a playable catalog entry resolvable to a streamable URL.
type Track struct {
	Id         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist,omitempty"`
	StreamURL  string `json:"stream_url"`
	DurationMs int64  `json:"duration_ms"`
}

// Room is a listening room as exposed over the HTTP API.
type Room struct {
	Id         int       `json:"id"`
	ExternalId string    `json:"external_id"`
	Name       string    `json:"name"`
	HostId     int       `json:"host_id"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}
