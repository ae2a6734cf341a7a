package listener

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jdavenport/go-listenroom/internal/reconcile"
	"github.com/jdavenport/go-listenroom/internal/server"
	"github.com/jdavenport/go-listenroom/internal/types"
)

const (
	defaultProbeInterval    = 10 * time.Second
	defaultProbeTimeout     = 5 * time.Second
	defaultTickInterval     = 500 * time.Millisecond
	defaultMaxProbeFailures = 3

	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

type Config struct {
	// ServerURL is the websocket endpoint, e.g. ws://localhost:8000/ws.
	ServerURL string
	RoomId    string
	// SessionToken is the JWT issued by the login endpoint.
	SessionToken string

	ProbeInterval    time.Duration
	ProbeTimeout     time.Duration
	TickInterval     time.Duration
	MaxProbeFailures int
}

// Session keeps one participant connected to a room: it dials, joins,
// feeds every sync-state broadcast into the reconciliation engine, runs
// periodic latency probes, and reconnects with backoff when the
// transport drops. Sequence continuity is reset on every new connection.
type Session struct {
	cfg    Config
	engine *reconcile.Engine
	log    *log.Logger

	connLock sync.Mutex
	conn     *websocket.Conn
	nextId   int

	rosterLock sync.RWMutex
	roster     []types.Participant

	pending map[int]time.Time
}

func NewSession(cfg Config, engine *reconcile.Engine, logger *log.Logger) *Session {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.MaxProbeFailures <= 0 {
		cfg.MaxProbeFailures = defaultMaxProbeFailures
	}

	return &Session{
		cfg:     cfg,
		engine:  engine,
		log:     logger,
		pending: make(map[int]time.Time),
	}
}

// Run keeps the session alive until the context is cancelled,
// reconnecting with exponential backoff after each transport failure.
func (s *Session) Run(ctx context.Context) error {
	backoff := reconnectBase
	for {
		start := time.Now()
		err := s.runConn(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(start) > reconnectMax {
			// the last connection held for a while; start over
			backoff = reconnectBase
		}

		s.log.Printf("connection lost (%v), reconnecting in %s", err, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (s *Session) runConn(ctx context.Context) error {
	header := http.Header{}
	header.Set("Cookie", "token="+s.cfg.SessionToken)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.ServerURL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.setConn(conn)
	defer s.setConn(nil)

	// sequence numbers from the previous connection mean nothing now
	s.engine.ResetSession()
	s.pending = make(map[int]time.Time)

	if err := s.send(&server.ClientMessage{
		Join: &server.JoinRoom{RoomId: s.cfg.RoomId},
	}); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	// fresh snapshot right away; also primes the latency estimate
	if err := s.sendProbe(); err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	incoming := make(chan *server.ServerMessage, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			var msg server.ServerMessage
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				close(incoming)
				return
			}

			select {
			case incoming <- &msg:
			default:
				// drop rather than block the read pump; the next
				// full-state broadcast supersedes anything missed
			}
		}
	}()

	probeTicker := time.NewTicker(s.cfg.ProbeInterval)
	defer probeTicker.Stop()
	tickTicker := time.NewTicker(s.cfg.TickInterval)
	defer tickTicker.Stop()
	expiryTicker := time.NewTicker(s.cfg.ProbeTimeout / 2)
	defer expiryTicker.Stop()

	failures := 0
	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				return <-readErr
			}
			if s.handleMessage(msg) {
				failures = 0
			}
		case <-probeTicker.C:
			if err := s.sendProbe(); err != nil {
				return fmt.Errorf("probe: %w", err)
			}
		case <-tickTicker.C:
			s.engine.Tick()
		case <-expiryTicker.C:
			failures += s.expirePending()
			if failures >= s.cfg.MaxProbeFailures {
				// playing on with no confirmation of sync is worse
				// than stopping
				s.engine.MarkDisconnected()
				return fmt.Errorf("no sync response after %d probes", failures)
			}
		case <-ctx.Done():
			s.send(&server.ClientMessage{
				Leave: &server.LeaveRoom{RoomId: s.cfg.RoomId},
			})
			return ctx.Err()
		}
	}
}

// handleMessage dispatches one server message; it reports whether the
// message counts as proof the server is still answering us.
func (s *Session) handleMessage(msg *server.ServerMessage) bool {
	switch {
	case msg.Sync != nil:
		if msg.Sync.ProbeId != 0 {
			if sentAt, ok := s.pending[msg.Sync.ProbeId]; ok {
				delete(s.pending, msg.Sync.ProbeId)
				s.engine.RecordRTT(time.Since(sentAt).Milliseconds())
			}
		}

		s.engine.ApplySync(msg.Sync.PlaybackState)
		return true
	case msg.Roster != nil:
		s.rosterLock.Lock()
		s.roster = msg.Roster.Participants
		s.rosterLock.Unlock()
		return true
	case msg.RoomClosed != nil:
		s.log.Printf("room %q closed", msg.RoomClosed.RoomId)
		s.engine.MarkDisconnected()
		return true
	case msg.Response != nil:
		if msg.Response.ResponseCode >= 400 {
			s.log.Printf("command %d rejected: %s (%s)", msg.Id, msg.Response.Reason, msg.Response.Error)
		} else if msg.Response.Reason == server.ReasonDuplicateSuppressed {
			s.log.Printf("command %d was a duplicate, already applied", msg.Id)
		}
		return true
	}

	return false
}

func (s *Session) sendProbe() error {
	s.connLock.Lock()
	s.nextId++
	probeId := s.nextId
	s.connLock.Unlock()

	s.pending[probeId] = time.Now()
	return s.send(&server.ClientMessage{
		SyncRequest: &server.SyncRequest{
			ProbeId:  probeId,
			SentAtMs: time.Now().UnixMilli(),
		},
	})
}

func (s *Session) expirePending() int {
	expired := 0
	for id, sentAt := range s.pending {
		if time.Since(sentAt) > s.cfg.ProbeTimeout {
			delete(s.pending, id)
			expired++
		}
	}
	return expired
}

// Roster returns the last roster broadcast seen on this session.
func (s *Session) Roster() []types.Participant {
	s.rosterLock.RLock()
	defer s.rosterLock.RUnlock()

	roster := make([]types.Participant, len(s.roster))
	copy(roster, s.roster)
	return roster
}

// Host controls. These work only when the authenticated participant is
// the room host; anyone else gets a NotAuthorized rejection back. Every
// command carries a fresh idempotency token so a retry after reconnect
// cannot double-apply.

func (s *Session) Play() error {
	return s.sendCommand(&server.ClientMessage{Play: &server.HostPlay{}})
}

func (s *Session) Pause() error {
	return s.sendCommand(&server.ClientMessage{Pause: &server.HostPause{}})
}

func (s *Session) Seek(positionMs int64) error {
	return s.sendCommand(&server.ClientMessage{Seek: &server.HostSeek{PositionMs: positionMs}})
}

func (s *Session) ChangeTrack(trackId string, autoPlay bool) error {
	return s.sendCommand(&server.ClientMessage{ChangeTrack: &server.HostChangeTrack{TrackId: trackId, AutoPlay: autoPlay}})
}

func (s *Session) SetVolume(volume float64) error {
	return s.sendCommand(&server.ClientMessage{Volume: &server.HostVolume{Volume: volume}})
}

func (s *Session) SetMuted(muted bool) error {
	return s.sendCommand(&server.ClientMessage{SetMuted: &server.SetMuted{Muted: muted}})
}

func (s *Session) RaiseHand(raised bool) error {
	return s.sendCommand(&server.ClientMessage{RaiseHand: &server.RaiseHand{Raised: raised}})
}

func (s *Session) sendCommand(msg *server.ClientMessage) error {
	msg.Token = uuid.NewString()
	return s.send(msg)
}

func (s *Session) send(msg *server.ClientMessage) error {
	s.connLock.Lock()
	defer s.connLock.Unlock()

	if s.conn == nil {
		return fmt.Errorf("not connected")
	}

	s.nextId++
	msg.Id = s.nextId
	msg.Timestamp = time.Now().UTC()

	return s.conn.WriteJSON(msg)
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.connLock.Lock()
	defer s.connLock.Unlock()
	s.conn = conn
}
