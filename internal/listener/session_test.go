package listener

import (
	"testing"
	"time"

	"github.com/jdavenport/go-listenroom/internal/audio"
	"github.com/jdavenport/go-listenroom/internal/reconcile"
	"github.com/jdavenport/go-listenroom/internal/server"
	"github.com/jdavenport/go-listenroom/internal/testutil"
	"github.com/jdavenport/go-listenroom/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()

	logger := testutil.TestLogger(t)
	engine := reconcile.NewEngine(audio.NewSimTransport(logger), logger, reconcile.DefaultConfig())
	return NewSession(cfg, engine, logger)
}

func Test_newSession_defaults(t *testing.T) {
	s := newTestSession(t, Config{ServerURL: "ws://localhost:8000/ws", RoomId: "test-room"})

	assert.Equal(t, defaultProbeInterval, s.cfg.ProbeInterval)
	assert.Equal(t, defaultProbeTimeout, s.cfg.ProbeTimeout)
	assert.Equal(t, defaultTickInterval, s.cfg.TickInterval)
	assert.Equal(t, defaultMaxProbeFailures, s.cfg.MaxProbeFailures)
}

func Test_handleMessage(t *testing.T) {
	t.Run("sync broadcast feeds the engine", func(t *testing.T) {
		s := newTestSession(t, Config{RoomId: "test-room"})

		handled := s.handleMessage(&server.ServerMessage{
			Sync: &server.SyncState{
				PlaybackState: types.PlaybackState{
					RoomId:   "test-room",
					TrackId:  "t1",
					Sequence: 1,
				},
			},
		})

		assert.True(t, handled, "expected sync broadcast handled")
		assert.Equal(t, int64(1), s.engine.LastSequence(), "expected snapshot applied")
	})

	t.Run("probe reply feeds the latency estimate", func(t *testing.T) {
		s := newTestSession(t, Config{RoomId: "test-room"})
		s.pending[7] = time.Now().Add(-100 * time.Millisecond)

		s.handleMessage(&server.ServerMessage{
			Sync: &server.SyncState{
				PlaybackState: types.PlaybackState{RoomId: "test-room", TrackId: "t1", Sequence: 1},
				ProbeId:       7,
				ProbeSentAtMs: time.Now().Add(-100 * time.Millisecond).UnixMilli(),
			},
		})

		assert.Empty(t, s.pending, "expected probe settled")
		require.Equal(t, 1, s.engine.Latency().SampleCount(), "expected one round-trip sample")
		assert.GreaterOrEqual(t, s.engine.Latency().OneWayMs(), int64(50), "expected one-way near half the round trip")
	})

	t.Run("roster update is retained", func(t *testing.T) {
		s := newTestSession(t, Config{RoomId: "test-room"})

		s.handleMessage(&server.ServerMessage{
			Roster: &server.RosterUpdate{
				RoomId: "test-room",
				Participants: []types.Participant{
					{Id: 1, DisplayName: "test-host", IsHost: true},
					{Id: 2, DisplayName: "test-listener"},
				},
			},
		})

		roster := s.Roster()
		require.Len(t, roster, 2, "expected roster retained")
		assert.True(t, roster[0].IsHost, "expected host flagged")
	})

	t.Run("room closed stops local playback", func(t *testing.T) {
		s := newTestSession(t, Config{RoomId: "test-room"})

		s.handleMessage(&server.ServerMessage{
			RoomClosed: &server.RoomClosed{RoomId: "test-room"},
		})

		assert.Equal(t, reconcile.StateDisconnected, s.engine.State(), "expected engine disconnected")
	})

	t.Run("empty message is not proof of life", func(t *testing.T) {
		s := newTestSession(t, Config{RoomId: "test-room"})
		assert.False(t, s.handleMessage(&server.ServerMessage{}), "expected empty message ignored")
	})
}

func Test_expirePending(t *testing.T) {
	s := newTestSession(t, Config{RoomId: "test-room", ProbeTimeout: 10 * time.Millisecond})

	s.pending[1] = time.Now().Add(-time.Second)
	s.pending[2] = time.Now()

	assert.Equal(t, 1, s.expirePending(), "expected only the stale probe expired")
	assert.Contains(t, s.pending, 2, "expected the fresh probe kept")
	assert.NotContains(t, s.pending, 1, "expected the stale probe dropped")
}

func Test_send_notConnected(t *testing.T) {
	s := newTestSession(t, Config{RoomId: "test-room"})

	err := s.Play()
	assert.Error(t, err, "expected commands to fail while disconnected")
}
