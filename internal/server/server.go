package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jdavenport/go-listenroom/internal/catalog"
	"github.com/jdavenport/go-listenroom/internal/stats"
	"github.com/jdavenport/go-listenroom/internal/types"
)

// SyncServer owns the room registry. Rooms are loaded on first join,
// unloaded when empty past the idle timeout, and every room runs its own
// goroutine so rooms never contend with each other.
type SyncServer struct {
	log             *log.Logger
	db              catalog.Repository
	stats           stats.StatsProvider
	resolver        *TrackResolver
	clients         map[*Client]struct{}
	clientsLock     sync.Mutex
	joinChan        chan *ClientMessage
	RegisterChan    chan *Client
	deRegisterChan  chan *Client
	RmRoomChan      chan string
	unloadRoomChan  chan unloadRoomRequest
	rooms           map[string]*Room
	graceWindow     time.Duration
	idleRoomTimeout time.Duration
	stop            chan struct{}
	done            chan struct{}
}

func NewSyncServer(logger *log.Logger, db catalog.Repository, sp stats.StatsProvider,
	graceWindow, idleRoomTimeout time.Duration) (*SyncServer, error) {
	return &SyncServer{
		log:             logger,
		db:              db,
		stats:           sp,
		resolver:        NewTrackResolver(db),
		joinChan:        make(chan *ClientMessage, 256),
		clients:         make(map[*Client]struct{}),
		RegisterChan:    make(chan *Client),
		deRegisterChan:  make(chan *Client, 256),
		RmRoomChan:      make(chan string),
		unloadRoomChan:  make(chan unloadRoomRequest, 64),
		rooms:           make(map[string]*Room),
		graceWindow:     graceWindow,
		idleRoomTimeout: idleRoomTimeout,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}, nil
}

func (cs *SyncServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoin(joinMsg)
		case client := <-cs.RegisterChan:
			cs.log.Printf("adding connection from %q", client.user.Username)
			cs.addClient(client)
			cs.stats.Incr(stats.ConnectedClients)
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection from %q", client.user.Username)
			cs.removeClient(client)
			cs.stats.Decr(stats.ConnectedClients)
		case req := <-cs.unloadRoomChan:
			cs.unloadRoom(req.roomId, req.deleted)
		case id := <-cs.RmRoomChan:
			cs.unloadRoom(id, true)
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				done := make(chan string)
				r.exit <- exitReq{done: done}
				<-done
			}

			close(cs.done)
			return
		}
	}
}

func (cs *SyncServer) handleJoin(joinMsg *ClientMessage) {
	if room, ok := cs.rooms[joinMsg.Join.RoomId]; ok {
		select {
		case room.joinChan <- joinMsg:
		default:
			cs.log.Printf("join channel full on room %q", room.externalId)
			joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
		}
		return
	}

	dbRoom, err := cs.db.GetRoomByExternalId(joinMsg.Join.RoomId)
	if err != nil {
		joinMsg.client.queueMessage(ErrRoomNotFound(joinMsg.Id))
		return
	}

	room := &Room{
		id:             dbRoom.Id,
		externalId:     dbRoom.ExternalId,
		hostId:         dbRoom.HostId,
		state:          newPlaybackState(dbRoom.ExternalId),
		participants:   make(map[int]*types.Participant),
		srv:            cs,
		joinChan:       make(chan *ClientMessage, 256),
		leaveChan:      make(chan *ClientMessage, 256),
		cmdChan:        make(chan *ClientMessage, 256),
		disconnectChan: make(chan *Client, 256),
		graceChan:      make(chan int, 64),
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[int]map[*Client]struct{}),
		graceTimers:    make(map[int]*time.Timer),
		seenTokens:     make(map[string]struct{}),
		log:            cs.log,
		exit:           make(chan exitReq),
	}

	cs.rooms[room.externalId] = room
	cs.stats.Incr(stats.ActiveRooms)
	room.joinChan <- joinMsg

	go room.start()
}

func (cs *SyncServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *SyncServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

func (cs *SyncServer) unloadRoom(roomId string, deleted bool) {
	r, ok := cs.rooms[roomId]
	if !ok {
		return
	}

	cs.log.Printf("unloading room %q", r.externalId)
	delete(cs.rooms, roomId)
	cs.stats.Decr(stats.ActiveRooms)

	done := make(chan string)
	r.exit <- exitReq{deleted: deleted, done: done}
	<-done
}

func (cs *SyncServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
