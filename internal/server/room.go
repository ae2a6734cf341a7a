package server

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jdavenport/go-listenroom/internal/stats"
	"github.com/jdavenport/go-listenroom/internal/types"
)

type exitReq struct {
	deleted bool
	done    chan string
}

type unloadRoomRequest struct {
	roomId  string
	deleted bool
}

// Room is the single writer for one room's playback state and roster.
// All mutations flow through the room goroutine's channel loop, so the
// sequence number strictly increases and no update is ever lost. Rooms
// are fully independent of each other.
type Room struct {
	id         int
	externalId string
	hostId     int
	state      *playbackState

	participants map[int]*types.Participant
	srv          *SyncServer
	joinChan     chan *ClientMessage
	leaveChan    chan *ClientMessage
	cmdChan      chan *ClientMessage
	// disconnectChan receives clients whose transport dropped without an
	// explicit leave; their seats are held for the grace window.
	disconnectChan chan *Client
	graceChan      chan int
	clients        map[*Client]struct{}
	userMap        map[int]map[*Client]struct{}
	clientLock     sync.RWMutex
	graceTimers    map[int]*time.Timer
	seenTokens     map[string]struct{}
	tokenOrder     []string
	log            *log.Logger
	// killTimer unloads the room once it has been empty for the idle
	// timeout.
	killTimer *time.Timer
	exit      chan exitReq
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(r.srv.idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case c := <-r.disconnectChan:
			r.handleDisconnect(c)
		case msg := <-r.cmdChan:
			r.handleCommand(msg)
		case userId := <-r.graceChan:
			r.handleGraceExpiry(userId)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	// stop the kill timer since we have a new client
	r.killTimer.Stop()

	c := join.client
	if p, ok := r.participants[c.user.Id]; ok {
		// same participant rejoining; cancel any pending removal and
		// bump the epoch so stale in-flight messages from the prior
		// connection can be told apart
		r.cancelGraceTimer(c.user.Id)
		p.ConnectionEpoch++
		r.log.Printf("participant %q reconnected to room %q (epoch %d)", c.user.Username, r.externalId, p.ConnectionEpoch)
	} else {
		r.participants[c.user.Id] = &types.Participant{
			Id:          c.user.Id,
			DisplayName: c.user.Username,
			IsHost:      c.user.Id == r.hostId,
			JoinedAtMs:  nowMs(),
		}

		if err := r.srv.db.RecordPresence(r.id, c.user.Id, true); err != nil {
			r.log.Println("RecordPresence:", err)
		}
	}

	r.addClient(c)

	c.queueMessage(NoErrOK(join.Id, map[string]any{
		"room_id": r.externalId,
		"host_id": r.hostId,
	}))

	// a join snapshot is shaped exactly like a live broadcast, so the
	// client reconciles it through the same path
	c.queueMessage(r.syncMessage(0, 0))

	r.broadcastRoster()
}

// handleLeave processes an explicit leave-room. Unlike a transport drop,
// the participant is removed immediately with no grace window.
func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	c := leaveMsg.client
	r.removeClient(c)

	if leaveMsg.Id != 0 {
		c.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}

	r.removeParticipant(c.user.Id)
}

// handleDisconnect holds the participant's seat for the grace window so a
// brief transport hiccup does not cause join/leave churn.
func (r *Room) handleDisconnect(c *Client) {
	r.removeClient(c)

	if !r.userConnected(c.user.Id) {
		if _, ok := r.participants[c.user.Id]; !ok {
			return
		}

		r.log.Printf("connection lost for %q in room %q, holding seat for %s", c.user.Username, r.externalId, r.srv.graceWindow)
		userId := c.user.Id
		r.cancelGraceTimer(userId)
		r.graceTimers[userId] = time.AfterFunc(r.srv.graceWindow, func() {
			select {
			case r.graceChan <- userId:
			default:
				r.log.Printf("grace channel full for room %q", r.externalId)
			}
		})
	}
}

func (r *Room) handleGraceExpiry(userId int) {
	delete(r.graceTimers, userId)

	if r.userConnected(userId) {
		// reconnected while the expiry was in flight
		return
	}

	r.removeParticipant(userId)
}

// removeParticipant makes a departure permanent: the roster entry goes
// away, a durable presence event is written, and everyone left in the
// room is told. A departing host freezes playback.
func (r *Room) removeParticipant(userId int) {
	p, ok := r.participants[userId]
	if !ok {
		return
	}

	delete(r.participants, userId)
	r.log.Printf("participant %q left room %q", p.DisplayName, r.externalId)

	if err := r.srv.db.RecordPresence(r.id, userId, false); err != nil {
		r.log.Println("RecordPresence:", err)
	}

	if userId == r.hostId {
		r.freezePlayback()
	}

	r.broadcastRoster()
}

// freezePlayback pauses the room at the instantaneous position. There is
// no host promotion; the room stays frozen until it is unloaded.
func (r *Room) freezePlayback() {
	if !r.state.playing {
		return
	}

	r.log.Printf("host gone from room %q, freezing playback", r.externalId)
	r.state.setPlaying(false, nowMs())
	r.broadcastSync()
}

func (r *Room) handleCommand(msg *ClientMessage) {
	switch {
	case msg.SyncRequest != nil:
		// snapshot request; answered only to the asking client, with the
		// probe echo for round-trip measurement
		reply := r.syncMessage(msg.SyncRequest.ProbeId, msg.SyncRequest.SentAtMs)
		reply.Id = msg.Id
		msg.client.queueMessage(reply)
		return
	case msg.SetMuted != nil:
		if p, ok := r.participants[msg.GetUserId()]; ok {
			p.IsMuted = msg.SetMuted.Muted
			msg.client.queueMessage(NoErrOK(msg.Id, nil))
			r.broadcastRoster()
		}
		return
	case msg.RaiseHand != nil:
		if p, ok := r.participants[msg.GetUserId()]; ok {
			p.HandRaised = msg.RaiseHand.Raised
			msg.client.queueMessage(NoErrOK(msg.Id, nil))
			r.broadcastRoster()
		}
		return
	}

	if !msg.isHostCommand() {
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	if rejection := r.validateCommand(msg); rejection != nil {
		r.srv.stats.Incr(stats.CommandsRejected)
		msg.client.queueMessage(rejection)
		return
	}

	// a replayed token is acknowledged without touching state, so retry
	// logic on the host can never double-apply a seek. Authority was
	// checked first; a non-host replaying a known token is still rejected.
	if r.seenToken(msg.Token) {
		msg.client.queueMessage(NoErrDuplicate(msg.Id))
		return
	}

	now := nowMs()
	switch {
	case msg.Play != nil:
		r.state.setPlaying(true, now)
	case msg.Pause != nil:
		r.state.setPlaying(false, now)
	case msg.Seek != nil:
		r.state.seekTo(msg.Seek.PositionMs, now)
	case msg.ChangeTrack != nil:
		r.state.setTrack(msg.track, msg.ChangeTrack.AutoPlay, now)
	case msg.Volume != nil:
		r.state.setVolume(msg.Volume.Volume)
	}

	r.rememberToken(msg.Token)
	r.srv.stats.Incr(stats.CommandsAccepted)

	msg.client.queueMessage(NoErrAccepted(msg.Id))
	r.broadcastSync()
}

// syncMessage builds a full-state broadcast from the current snapshot.
func (r *Room) syncMessage(probeId int, probeSentAtMs int64) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Sync: &SyncState{
			PlaybackState: r.state.snapshot(),
			ProbeId:       probeId,
			ProbeSentAtMs: probeSentAtMs,
		},
	}
}

func (r *Room) broadcastSync() {
	r.broadcast(r.syncMessage(0, 0))
	r.srv.stats.Incr(stats.SyncBroadcasts)
}

func (r *Room) broadcastRoster() {
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Roster: &RosterUpdate{
			RoomId:       r.externalId,
			Participants: r.rosterSnapshot(),
		},
	})
}

func (r *Room) rosterSnapshot() []types.Participant {
	roster := make([]types.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		roster = append(roster, *p)
	}

	sort.Slice(roster, func(i, j int) bool {
		if roster[i].JoinedAtMs != roster[j].JoinedAtMs {
			return roster[i].JoinedAtMs < roster[j].JoinedAtMs
		}
		return roster[i].Id < roster[j].Id
	})

	return roster
}

func (r *Room) cancelGraceTimer(userId int) {
	if timer, ok := r.graceTimers[userId]; ok {
		timer.Stop()
		delete(r.graceTimers, userId)
	}
}

func (r *Room) userConnected(userId int) bool {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()
	return r.userMap[userId] != nil
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.setRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	r.log.Printf("removing client %q from room %q", c.user.Username, r.externalId)
	delete(r.clients, c)
	c.clearRoom(r.externalId)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.externalId)
		r.killTimer.Reset(r.srv.idleRoomTimeout)
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.externalId)
	select {
	case r.srv.unloadRoomChan <- unloadRoomRequest{roomId: r.externalId}:
	default:
		// retry on the next timeout
		r.killTimer.Reset(r.srv.idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.externalId)
	r.killTimer.Stop()

	for userId := range r.graceTimers {
		r.cancelGraceTimer(userId)
	}

	if e.deleted {
		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: Now(),
			},
			RoomClosed: &RoomClosed{RoomId: r.externalId},
		})
	}

	r.clientLock.Lock()
	for c := range r.clients {
		c.clearRoom(r.externalId)
	}
	r.clientLock.Unlock()

	if e.done != nil {
		e.done <- r.externalId
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
