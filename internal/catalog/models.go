package catalog

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id         int
	ExternalId string
	Name       string
	HostId     int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Track struct {
	Id         string
	Title      string
	Artist     string
	StreamURL  string
	DurationMs int64
	CreatedAt  time.Time
}

// PresenceEvent is a durable join/leave record for a room's roster.
type PresenceEvent struct {
	Id        int
	RoomId    int
	AccountId int
	Joined    bool
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Name       string
	ExternalId string
	HostId     int
}
