package server

import (
	"net/http"
	"time"

	"github.com/jdavenport/go-listenroom/internal/catalog"
	"github.com/jdavenport/go-listenroom/internal/types"
)

// Rejection reasons reported to the issuing client. A rejected command
// never mutates room state.
const (
	ReasonNotAuthorized       = "NotAuthorized"
	ReasonInvalidPosition     = "InvalidPosition"
	ReasonInvalidVolume       = "InvalidVolume"
	ReasonTrackNotFound       = "TrackNotFound"
	ReasonDuplicateSuppressed = "DuplicateSuppressed"
	ReasonRoomNotFound        = "RoomNotFound"
)

type BaseMessage struct {
	Id int `json:"id,omitempty"`
	// Token is a client-generated idempotency token for host commands.
	// A replayed token is acknowledged without reapplication.
	Token     string    `json:"token,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the closed set of messages a client may send. Exactly
// one variant pointer is expected to be non-nil; anything else is rejected.
type ClientMessage struct {
	BaseMessage
	Join        *JoinRoom        `json:"join,omitempty"`
	Leave       *LeaveRoom       `json:"leave,omitempty"`
	Play        *HostPlay        `json:"play,omitempty"`
	Pause       *HostPause       `json:"pause,omitempty"`
	Seek        *HostSeek        `json:"seek,omitempty"`
	ChangeTrack *HostChangeTrack `json:"change_track,omitempty"`
	Volume      *HostVolume      `json:"volume,omitempty"`
	SyncRequest *SyncRequest     `json:"sync_request,omitempty"`
	SetMuted    *SetMuted        `json:"set_muted,omitempty"`
	RaiseHand   *RaiseHand       `json:"raise_hand,omitempty"`

	UserId int     `json:"-"`
	client *Client `json:"-"`
	// track is resolved by the read pump before the room actor sees a
	// change_track command, so the serialized section never blocks on I/O.
	track *catalog.Track `json:"-"`
}

func (cm *ClientMessage) GetUserId() int {
	if cm.UserId != 0 {
		return cm.UserId
	}
	if cm.client != nil {
		return cm.client.user.Id
	}
	return 0
}

// isHostCommand reports whether the message carries a variant only the
// room host may issue.
func (cm *ClientMessage) isHostCommand() bool {
	return cm.Play != nil || cm.Pause != nil || cm.Seek != nil ||
		cm.ChangeTrack != nil || cm.Volume != nil
}

type JoinRoom struct {
	RoomId string `json:"room_id"`
}

type LeaveRoom struct {
	RoomId string `json:"room_id"`
}

type HostPlay struct{}

type HostPause struct{}

type HostSeek struct {
	PositionMs int64 `json:"position_ms"`
}

type HostChangeTrack struct {
	TrackId  string `json:"track_id"`
	AutoPlay bool   `json:"auto_play"`
}

type HostVolume struct {
	Volume float64 `json:"volume"`
}

// SyncRequest asks for a fresh full-state snapshot. SentAtMs is the
// client's local send time, echoed back for round-trip measurement; it is
// never used for authority.
type SyncRequest struct {
	ProbeId  int   `json:"probe_id,omitempty"`
	SentAtMs int64 `json:"sent_at_ms,omitempty"`
}

type SetMuted struct {
	Muted bool `json:"muted"`
}

type RaiseHand struct {
	Raised bool `json:"raised"`
}

// SyncState is a full-state playback broadcast. The same shape is used
// for live mutations, join snapshots and sync-request responses, so
// receivers need exactly one code path. Probe fields are only set when
// answering a sync request.
type SyncState struct {
	types.PlaybackState
	ProbeId       int   `json:"probe_id,omitempty"`
	ProbeSentAtMs int64 `json:"probe_sent_at_ms,omitempty"`
}

type RosterUpdate struct {
	RoomId       string              `json:"room_id"`
	Participants []types.Participant `json:"participants"`
}

type RoomClosed struct {
	RoomId string `json:"room_id"`
}

type ServerMessage struct {
	BaseMessage
	Response   *Response     `json:"response,omitempty"`
	Sync       *SyncState    `json:"sync_state,omitempty"`
	Roster     *RosterUpdate `json:"roster_update,omitempty"`
	RoomClosed *RoomClosed   `json:"room_closed,omitempty"`
	SkipClient *Client       `json:"-"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Reason       string         `json:"reason,omitempty"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

// NoErrDuplicate acknowledges an idempotent replay. The original
// application stands; nothing is reapplied.
func NoErrDuplicate(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Reason:       ReasonDuplicateSuppressed,
		},
	}
}

func ErrNotAuthorized(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Reason:       ReasonNotAuthorized,
			Error:        "only the host may control playback",
		},
	}
}

func ErrInvalidPosition(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Reason:       ReasonInvalidPosition,
			Error:        "seek position out of range",
		},
	}
}

func ErrInvalidVolume(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Reason:       ReasonInvalidVolume,
			Error:        "volume must be between 0.0 and 1.0",
		},
	}
}

func ErrTrackNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Reason:       ReasonTrackNotFound,
			Error:        "track not found",
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Reason:       ReasonRoomNotFound,
			Error:        "room not found",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
