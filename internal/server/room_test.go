package server

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jdavenport/go-listenroom/internal/catalog"
	"github.com/jdavenport/go-listenroom/internal/stats"
	"github.com/jdavenport/go-listenroom/internal/testutil"
	"github.com/jdavenport/go-listenroom/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestSyncServer(t *testing.T, db catalog.Repository, graceWindow time.Duration) (*SyncServer, *stats.MockStatsUpdater) {
	t.Helper()

	sp := &stats.MockStatsUpdater{}
	srv, err := NewSyncServer(testutil.TestLogger(t), db, sp, graceWindow, time.Hour)
	require.NoError(t, err)

	return srv, sp
}

func newTestRoom(t *testing.T, srv *SyncServer, hostId int) *Room {
	t.Helper()

	r := &Room{
		id:             1,
		externalId:     "test-room",
		hostId:         hostId,
		state:          newPlaybackState("test-room"),
		participants:   make(map[int]*types.Participant),
		srv:            srv,
		joinChan:       make(chan *ClientMessage, 256),
		leaveChan:      make(chan *ClientMessage, 256),
		cmdChan:        make(chan *ClientMessage, 256),
		disconnectChan: make(chan *Client, 256),
		graceChan:      make(chan int, 64),
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[int]map[*Client]struct{}),
		graceTimers:    make(map[int]*time.Timer),
		seenTokens:     make(map[string]struct{}),
		log:            testutil.TestLogger(t),
		killTimer:      time.NewTimer(time.Hour),
		exit:           make(chan exitReq),
	}
	r.killTimer.Stop()

	return r
}

func newTestClient(t *testing.T, srv *SyncServer, user types.User) *Client {
	t.Helper()

	return &Client{
		srv:    srv,
		log:    testutil.TestLogger(t),
		user:   user,
		connId: uuid.NewString(),
		send:   make(chan *ServerMessage, 256),
		stop:   make(chan struct{}),
	}
}

// drainMessages empties a client's outbound queue.
func drainMessages(c *Client) []*ServerMessage {
	var msgs []*ServerMessage
	for {
		select {
		case m := <-c.send:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func joinRoom(r *Room, c *Client, id int) {
	r.handleJoin(&ClientMessage{
		BaseMessage: BaseMessage{Id: id},
		Join:        &JoinRoom{RoomId: r.externalId},
		client:      c,
	})
}

func hostCmd(c *Client, id int) *ClientMessage {
	return &ClientMessage{
		BaseMessage: BaseMessage{Id: id, Token: uuid.NewString()},
		client:      c,
	}
}

func Test_handleJoin(t *testing.T) {
	db := &catalog.MockRepository{}
	db.On("RecordPresence", 1, 10, true).Return(nil)

	srv, _ := newTestSyncServer(t, db, time.Hour)
	r := newTestRoom(t, srv, 10)
	c := newTestClient(t, srv, types.User{Id: 10, Username: "test-host"})

	joinRoom(r, c, 1)

	msgs := drainMessages(c)
	require.Len(t, msgs, 3, "expected ack, snapshot and roster")

	require.NotNil(t, msgs[0].Response, "expected first message to be the ack")
	assert.Equal(t, 200, msgs[0].Response.ResponseCode, "expected ok response")
	assert.Equal(t, "test-room", msgs[0].Response.Data["room_id"], "expected room id in ack data")
	assert.Equal(t, 10, msgs[0].Response.Data["host_id"], "expected host id in ack data")

	require.NotNil(t, msgs[1].Sync, "expected second message to be the snapshot")
	assert.Equal(t, int64(0), msgs[1].Sync.Sequence, "expected pristine room at sequence 0")
	assert.False(t, msgs[1].Sync.IsPlaying, "expected pristine room to be paused")

	require.NotNil(t, msgs[2].Roster, "expected third message to be the roster")
	require.Len(t, msgs[2].Roster.Participants, 1, "expected one participant")
	assert.True(t, msgs[2].Roster.Participants[0].IsHost, "expected joining host to be flagged")

	db.AssertExpectations(t)
}

func Test_handleJoin_reconnect(t *testing.T) {
	db := &catalog.MockRepository{}
	db.On("RecordPresence", 1, 10, true).Return(nil).Once()

	srv, _ := newTestSyncServer(t, db, time.Hour)
	r := newTestRoom(t, srv, 10)
	c := newTestClient(t, srv, types.User{Id: 10, Username: "test-host"})

	joinRoom(r, c, 1)
	r.handleDisconnect(c)
	assert.Len(t, r.graceTimers, 1, "expected seat to be held after transport drop")
	assert.Contains(t, r.participants, 10, "expected participant to survive the grace window")

	c2 := newTestClient(t, srv, types.User{Id: 10, Username: "test-host"})
	joinRoom(r, c2, 2)

	assert.Empty(t, r.graceTimers, "expected pending removal to be cancelled on rejoin")
	assert.Equal(t, 1, r.participants[10].ConnectionEpoch, "expected connection epoch to bump on rejoin")
	assert.Len(t, r.participants, 1, "expected no duplicate participant")

	// a single presence record; the rejoin is not a fresh join
	db.AssertExpectations(t)
	db.AssertNumberOfCalls(t, "RecordPresence", 1)
}

func Test_handleCommand_playIsBroadcast(t *testing.T) {
	db := &catalog.MockRepository{}
	db.On("RecordPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	srv, sp := newTestSyncServer(t, db, time.Hour)
	r := newTestRoom(t, srv, 10)

	host := newTestClient(t, srv, types.User{Id: 10, Username: "test-host"})
	listener := newTestClient(t, srv, types.User{Id: 20, Username: "test-listener"})
	joinRoom(r, host, 1)
	joinRoom(r, listener, 2)
	drainMessages(host)
	drainMessages(listener)

	msg := hostCmd(host, 5)
	msg.Play = &HostPlay{}
	r.handleCommand(msg)

	hostMsgs := drainMessages(host)
	require.Len(t, hostMsgs, 2, "expected ack and broadcast for the issuer")
	require.NotNil(t, hostMsgs[0].Response, "expected first issuer message to be the ack")
	assert.Equal(t, 202, hostMsgs[0].Response.ResponseCode, "expected accepted response")
	assert.Equal(t, 5, hostMsgs[0].Id, "expected ack to correlate with the command")

	listenerMsgs := drainMessages(listener)
	require.Len(t, listenerMsgs, 1, "expected only the broadcast for other clients")
	require.NotNil(t, listenerMsgs[0].Sync, "expected a sync broadcast")
	assert.True(t, listenerMsgs[0].Sync.IsPlaying, "expected broadcast to carry the new state")
	assert.Equal(t, int64(1), listenerMsgs[0].Sync.Sequence, "expected sequence 1 after first command")

	assert.Equal(t, 1, sp.Counts[stats.CommandsAccepted], "expected one accepted command counted")
	assert.Equal(t, 1, sp.Counts[stats.SyncBroadcasts], "expected one broadcast counted")
}

func Test_handleCommand_duplicateToken(t *testing.T) {
	db := &catalog.MockRepository{}
	db.On("RecordPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	srv, sp := newTestSyncServer(t, db, time.Hour)
	r := newTestRoom(t, srv, 10)

	host := newTestClient(t, srv, types.User{Id: 10, Username: "test-host"})
	joinRoom(r, host, 1)
	drainMessages(host)

	msg := &ClientMessage{
		BaseMessage: BaseMessage{Id: 5, Token: "tok-1"},
		Seek:        &HostSeek{PositionMs: 5000},
		client:      host,
	}
	r.handleCommand(msg)

	replay := &ClientMessage{
		BaseMessage: BaseMessage{Id: 6, Token: "tok-1"},
		Seek:        &HostSeek{PositionMs: 5000},
		client:      host,
	}
	r.handleCommand(replay)

	msgs := drainMessages(host)
	require.Len(t, msgs, 3, "expected ack, broadcast and duplicate ack")
	assert.Equal(t, 202, msgs[0].Response.ResponseCode, "expected first command accepted")
	require.NotNil(t, msgs[2].Response, "expected replay to be answered")
	assert.Equal(t, ReasonDuplicateSuppressed, msgs[2].Response.Reason, "expected replay flagged as duplicate")

	// the replay must not reapply: one mutation, one broadcast
	assert.Equal(t, int64(1), r.state.seq, "expected sequence to stay at 1")
	assert.Equal(t, int64(5000), r.state.positionMs, "expected position applied once")
	assert.Equal(t, 1, sp.Counts[stats.CommandsAccepted], "expected one accepted command counted")
	assert.Equal(t, 1, sp.Counts[stats.SyncBroadcasts], "expected one broadcast counted")
}

func Test_handleCommand_replayedTokenByNonHost(t *testing.T) {
	db := &catalog.MockRepository{}
	db.On("RecordPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	srv, _ := newTestSyncServer(t, db, time.Hour)
	r := newTestRoom(t, srv, 10)

	host := newTestClient(t, srv, types.User{Id: 10, Username: "test-host"})
	listener := newTestClient(t, srv, types.User{Id: 20, Username: "test-listener"})
	joinRoom(r, host, 1)
	joinRoom(r, listener, 2)
	drainMessages(host)
	drainMessages(listener)

	r.handleCommand(&ClientMessage{
		BaseMessage: BaseMessage{Id: 5, Token: "tok-1"},
		Seek:        &HostSeek{PositionMs: 5000},
		client:      host,
	})
	drainMessages(host)
	drainMessages(listener)

	// a non-host replaying a token the host already applied must hit the
	// authority wall, not the duplicate ack
	r.handleCommand(&ClientMessage{
		BaseMessage: BaseMessage{Id: 6, Token: "tok-1"},
		Seek:        &HostSeek{PositionMs: 5000},
		client:      listener,
	})

	msgs := drainMessages(listener)
	require.Len(t, msgs, 1, "expected only a rejection for the replaying non-host")
	require.NotNil(t, msgs[0].Response, "expected a rejection response")
	assert.Equal(t, ReasonNotAuthorized, msgs[0].Response.Reason, "expected authority checked before duplicate suppression")
	assert.Equal(t, int64(1), r.state.seq, "expected state untouched by the replay")
}

func Test_handleCommand_nonHostRejected(t *testing.T) {
	db := &catalog.MockRepository{}
	db.On("RecordPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	srv, sp := newTestSyncServer(t, db, time.Hour)
	r := newTestRoom(t, srv, 10)

	host := newTestClient(t, srv, types.User{Id: 10, Username: "test-host"})
	listener := newTestClient(t, srv, types.User{Id: 20, Username: "test-listener"})
	joinRoom(r, host, 1)
	joinRoom(r, listener, 2)
	drainMessages(host)
	drainMessages(listener)

	msg := hostCmd(listener, 7)
	msg.Seek = &HostSeek{PositionMs: 1000}
	r.handleCommand(msg)

	msgs := drainMessages(listener)
	require.Len(t, msgs, 1, "expected only the rejection for the issuer")
	require.NotNil(t, msgs[0].Response, "expected a rejection response")
	assert.Equal(t, 403, msgs[0].Response.ResponseCode, "expected forbidden response")
	assert.Equal(t, ReasonNotAuthorized, msgs[0].Response.Reason, "expected not-authorized reason")

	assert.Empty(t, drainMessages(host), "expected no broadcast for a rejected command")
	assert.Equal(t, int64(0), r.state.seq, "expected state untouched by rejection")
	assert.Equal(t, 1, sp.Counts[stats.CommandsRejected], "expected one rejected command counted")
	assert.Equal(t, 0, sp.Counts[stats.CommandsAccepted], "expected no accepted commands counted")
}

func Test_handleCommand_sequenceStrictlyIncreasing(t *testing.T) {
	db := &catalog.MockRepository{}
	db.On("RecordPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	srv, _ := newTestSyncServer(t, db, time.Hour)
	r := newTestRoom(t, srv, 10)

	host := newTestClient(t, srv, types.User{Id: 10, Username: "test-host"})
	listener := newTestClient(t, srv, types.User{Id: 20, Username: "test-listener"})
	joinRoom(r, host, 1)
	joinRoom(r, listener, 2)
	drainMessages(host)
	drainMessages(listener)

	play := hostCmd(host, 1)
	play.Play = &HostPlay{}
	r.handleCommand(play)

	seek := hostCmd(host, 2)
	seek.Seek = &HostSeek{PositionMs: 10000}
	r.handleCommand(seek)

	vol := hostCmd(host, 3)
	vol.Volume = &HostVolume{Volume: 0.5}
	r.handleCommand(vol)

	pause := hostCmd(host, 4)
	pause.Pause = &HostPause{}
	r.handleCommand(pause)

	var seqs []int64
	for _, m := range drainMessages(listener) {
		if m.Sync != nil {
			seqs = append(seqs, m.Sync.Sequence)
		}
	}

	assert.Equal(t, []int64{1, 2, 3, 4}, seqs, "expected sequence to increase by exactly one per accepted command")
}

func Test_handleCommand_syncRequest(t *testing.T) {
	db := &catalog.MockRepository{}
	db.On("RecordPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	srv, sp := newTestSyncServer(t, db, time.Hour)
	r := newTestRoom(t, srv, 10)

	host := newTestClient(t, srv, types.User{Id: 10, Username: "test-host"})
	listener := newTestClient(t, srv, types.User{Id: 20, Username: "test-listener"})
	joinRoom(r, host, 1)
	joinRoom(r, listener, 2)
	drainMessages(host)
	drainMessages(listener)

	r.handleCommand(&ClientMessage{
		BaseMessage: BaseMessage{Id: 9},
		SyncRequest: &SyncRequest{ProbeId: 7, SentAtMs: 123456},
		client:      listener,
	})

	msgs := drainMessages(listener)
	require.Len(t, msgs, 1, "expected a single snapshot reply")
	require.NotNil(t, msgs[0].Sync, "expected the reply to carry the snapshot")
	assert.Equal(t, 9, msgs[0].Id, "expected reply to correlate with the request")
	assert.Equal(t, 7, msgs[0].Sync.ProbeId, "expected probe id echoed")
	assert.Equal(t, int64(123456), msgs[0].Sync.ProbeSentAtMs, "expected probe send time echoed")

	// snapshots are answered to the asker only and never mutate
	assert.Empty(t, drainMessages(host), "expected no broadcast for a sync request")
	assert.Equal(t, int64(0), r.state.seq, "expected sync request to leave sequence untouched")
	assert.Equal(t, 0, sp.Counts[stats.SyncBroadcasts], "expected no broadcast counted")
}

func Test_handleCommand_setMuted(t *testing.T) {
	db := &catalog.MockRepository{}
	db.On("RecordPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	srv, _ := newTestSyncServer(t, db, time.Hour)
	r := newTestRoom(t, srv, 10)

	listener := newTestClient(t, srv, types.User{Id: 20, Username: "test-listener"})
	joinRoom(r, listener, 1)
	drainMessages(listener)

	r.handleCommand(&ClientMessage{
		BaseMessage: BaseMessage{Id: 2},
		SetMuted:    &SetMuted{Muted: true},
		client:      listener,
	})

	msgs := drainMessages(listener)
	require.Len(t, msgs, 2, "expected ack and roster update")
	require.NotNil(t, msgs[1].Roster, "expected roster update after mute")
	assert.True(t, msgs[1].Roster.Participants[0].IsMuted, "expected mute flag on roster")
	assert.Equal(t, int64(0), r.state.seq, "expected roster change to leave playback sequence untouched")
}

func Test_handleLeave_hostFreezesPlayback(t *testing.T) {
	db := &catalog.MockRepository{}
	db.On("RecordPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	srv, _ := newTestSyncServer(t, db, time.Hour)
	r := newTestRoom(t, srv, 10)

	host := newTestClient(t, srv, types.User{Id: 10, Username: "test-host"})
	listener := newTestClient(t, srv, types.User{Id: 20, Username: "test-listener"})
	joinRoom(r, host, 1)
	joinRoom(r, listener, 2)

	play := hostCmd(host, 3)
	play.Play = &HostPlay{}
	r.handleCommand(play)
	drainMessages(host)
	drainMessages(listener)

	r.handleLeave(&ClientMessage{
		BaseMessage: BaseMessage{Id: 4},
		Leave:       &LeaveRoom{RoomId: r.externalId},
		client:      host,
	})

	assert.NotContains(t, r.participants, 10, "expected host removed immediately on explicit leave")

	var sawFreeze, sawRoster bool
	for _, m := range drainMessages(listener) {
		if m.Sync != nil {
			sawFreeze = true
			assert.False(t, m.Sync.IsPlaying, "expected playback frozen after host departure")
			assert.Equal(t, int64(2), m.Sync.Sequence, "expected freeze to be a normal sequenced mutation")
		}
		if m.Roster != nil {
			sawRoster = true
			assert.Len(t, m.Roster.Participants, 1, "expected host gone from roster")
		}
	}
	assert.True(t, sawFreeze, "expected a freeze broadcast")
	assert.True(t, sawRoster, "expected a roster broadcast")
	assert.False(t, r.state.playing, "expected room paused with no host promotion")
}

func Test_graceExpiry(t *testing.T) {
	db := &catalog.MockRepository{}
	db.On("RecordPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	srv, _ := newTestSyncServer(t, db, 5*time.Millisecond)
	r := newTestRoom(t, srv, 10)

	listener := newTestClient(t, srv, types.User{Id: 20, Username: "test-listener"})
	joinRoom(r, listener, 1)
	drainMessages(listener)

	r.handleDisconnect(listener)
	assert.Contains(t, r.participants, 20, "expected seat held during grace window")

	select {
	case userId := <-r.graceChan:
		r.handleGraceExpiry(userId)
	case <-time.After(time.Second):
		t.Fatal("grace timer never fired")
	}

	assert.NotContains(t, r.participants, 20, "expected participant removed after grace expiry")
	db.AssertCalled(t, "RecordPresence", 1, 20, false)
}

func Test_rosterSnapshot_ordering(t *testing.T) {
	r := &Room{
		participants: map[int]*types.Participant{
			3: {Id: 3, JoinedAtMs: 200},
			1: {Id: 1, JoinedAtMs: 100},
			2: {Id: 2, JoinedAtMs: 100},
		},
	}

	roster := r.rosterSnapshot()
	require.Len(t, roster, 3, "expected all participants in the roster")
	assert.Equal(t, 1, roster[0].Id, "expected earliest joiner first")
	assert.Equal(t, 2, roster[1].Id, "expected id to break join-time ties")
	assert.Equal(t, 3, roster[2].Id, "expected latest joiner last")
}

func Test_handleRoomExit_deleted(t *testing.T) {
	db := &catalog.MockRepository{}
	db.On("RecordPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	srv, _ := newTestSyncServer(t, db, time.Hour)
	r := newTestRoom(t, srv, 10)

	listener := newTestClient(t, srv, types.User{Id: 20, Username: "test-listener"})
	joinRoom(r, listener, 1)
	drainMessages(listener)

	done := make(chan string, 1)
	r.handleRoomExit(exitReq{deleted: true, done: done})

	msgs := drainMessages(listener)
	require.Len(t, msgs, 1, "expected a room-closed notice")
	require.NotNil(t, msgs[0].RoomClosed, "expected room-closed payload")
	assert.Equal(t, "test-room", msgs[0].RoomClosed.RoomId, "expected room id in notice")

	assert.Equal(t, "test-room", <-done, "expected exit to report completion")
	assert.Nil(t, listener.getRoom(), "expected client detached from the room")
}
