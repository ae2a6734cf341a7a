package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/jdavenport/go-listenroom/internal/catalog"
	"github.com/jdavenport/go-listenroom/internal/server"
	"github.com/jdavenport/go-listenroom/internal/types"
	"github.com/teris-io/shortid"
)

type CreateRoomRequest struct {
	Name string `json:"name"`
}

func (a *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Printf("json encode: %v", err)
	}
}

func (a *App) createRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		errResp := NewBadRequestError("room name is required")
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId, err := shortid.Generate()
	if err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := a.db.CreateRoom(catalog.CreateRoomParams{
		Name:       req.Name,
		ExternalId: externalId,
		HostId:     userId,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusCreated, types.Room{
		Id:         room.Id,
		ExternalId: room.ExternalId,
		Name:       room.Name,
		HostId:     room.HostId,
		CreatedAt:  room.CreatedAt,
		UpdatedAt:  room.UpdatedAt,
	})
}

func (a *App) getRoom(w http.ResponseWriter, r *http.Request) {
	externalId := r.URL.Query().Get("external_id")
	if externalId == "" {
		errResp := NewBadRequestError("external_id is required")
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := a.db.GetRoomByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError("room")
		} else {
			errResp = NewInternalServerError(err)
		}
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusOK, types.Room{
		Id:         room.Id,
		ExternalId: room.ExternalId,
		Name:       room.Name,
		HostId:     room.HostId,
		CreatedAt:  room.CreatedAt,
		UpdatedAt:  room.UpdatedAt,
	})
}

func (a *App) deleteRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("external_id")
	if externalId == "" {
		errResp := NewBadRequestError("external_id is required")
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := a.db.GetRoomByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError("room")
		} else {
			errResp = NewInternalServerError(err)
		}
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if room.HostId != userId {
		errResp := NewForbiddenError("only the host may delete a room")
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := a.db.DeleteRoom(room.Id); err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// evict the live room so connected participants are told
	a.ss.RmRoomChan <- room.ExternalId

	w.WriteHeader(http.StatusNoContent)
}

func (a *App) getTrack(w http.ResponseWriter, r *http.Request) {
	trackId := r.URL.Query().Get("id")
	if trackId == "" {
		errResp := NewBadRequestError("track id is required")
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	track, err := a.db.GetTrack(trackId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError("track")
		} else {
			errResp = NewInternalServerError(err)
		}
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusOK, types.Track{
		Id:         track.Id,
		Title:      track.Title,
		Artist:     track.Artist,
		StreamURL:  track.StreamURL,
		DurationMs: track.DurationMs,
	})
}

func (a *App) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := a.db.GetAccountById(id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError("account")
		} else {
			errResp = NewInternalServerError(err)
		}
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(a.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Id:       user.Id,
		Username: user.Username,
	}, conn, a.ss, a.log)

	a.ss.RegisterChan <- client

	go client.Write()
	go client.Read()
}
