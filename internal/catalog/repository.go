package catalog

// Repository is the boundary to the durable catalog and roster store.
// The sync core only ever reads tracks and rooms and appends presence
// events; it never stores playback positions.
type Repository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomByExternalId(externalId string) (Room, error)
	DeleteRoom(id int) error
	GetTrack(trackId string) (Track, error)
	RecordPresence(roomId, accountId int, joined bool) error
	ListPresence(roomId, limit int) ([]PresenceEvent, error)
}
