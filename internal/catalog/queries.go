package catalog

import (
	"time"
)

func (db *PgRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
	)

	return u, err
}

func (db *PgRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
	)

	return u, err
}

func (db *PgRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
	)

	return u, err
}

func (db *PgRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	res := db.conn.QueryRow(
		"INSERT INTO rooms (external_id, name, host_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, external_id, name, host_id, created_at, updated_at",
		params.ExternalId,
		params.Name,
		params.HostId,
		time.Now().UTC(),
	)

	var r Room
	err := res.Scan(
		&r.Id,
		&r.ExternalId,
		&r.Name,
		&r.HostId,
		&r.CreatedAt,
		&r.UpdatedAt,
	)

	return r, err
}

func (db *PgRepository) GetRoomByExternalId(externalId string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, host_id, created_at, updated_at FROM rooms "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var r Room
	err := row.Scan(
		&r.Id,
		&r.ExternalId,
		&r.Name,
		&r.HostId,
		&r.CreatedAt,
		&r.UpdatedAt,
	)

	return r, err
}

func (db *PgRepository) DeleteRoom(id int) error {
	_, err := db.conn.Exec("DELETE FROM rooms WHERE id = $1", id)
	return err
}

func (db *PgRepository) GetTrack(trackId string) (Track, error) {
	row := db.conn.QueryRow(
		"SELECT id, title, artist, stream_url, duration_ms, created_at FROM tracks "+
			"WHERE id = $1 LIMIT 1",
		trackId,
	)

	var t Track
	err := row.Scan(
		&t.Id,
		&t.Title,
		&t.Artist,
		&t.StreamURL,
		&t.DurationMs,
		&t.CreatedAt,
	)

	return t, err
}

func (db *PgRepository) RecordPresence(roomId, accountId int, joined bool) error {
	_, err := db.conn.Exec(
		"INSERT INTO presence_events (room_id, account_id, joined, created_at) "+
			"VALUES ($1, $2, $3, $4)",
		roomId,
		accountId,
		joined,
		time.Now().UTC(),
	)
	return err
}

func (db *PgRepository) ListPresence(roomId, limit int) ([]PresenceEvent, error) {
	rows, err := db.conn.Query(
		"SELECT id, room_id, account_id, joined, created_at FROM presence_events "+
			"WHERE room_id = $1 ORDER BY id DESC LIMIT $2",
		roomId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []PresenceEvent
	for rows.Next() {
		var e PresenceEvent
		if err := rows.Scan(&e.Id, &e.RoomId, &e.AccountId, &e.Joined, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
