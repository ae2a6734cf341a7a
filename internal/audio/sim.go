package audio

import (
	"log"
	"sync"
	"time"
)

// SimTransport models playback with a clock instead of a speaker, for
// headless listeners and local testing. Position advances in real time,
// scaled by the playback rate, whenever the transport is playing.
type SimTransport struct {
	log *log.Logger

	mu         sync.Mutex
	trackId    string
	playing    bool
	positionMs int64
	rate       float64
	volume     float64
	updatedAt  time.Time
}

func NewSimTransport(logger *log.Logger) *SimTransport {
	return &SimTransport{
		log:    logger,
		rate:   1.0,
		volume: 1.0,
	}
}

func (st *SimTransport) Load(trackId string, startMs int64) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.trackId = trackId
	st.positionMs = startMs
	st.playing = false
	st.rate = 1.0
	st.updatedAt = time.Now()

	st.log.Printf("sim: loaded %q at %dms", trackId, startMs)
	return nil
}

func (st *SimTransport) Play() {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.advance()
	st.playing = true
	st.log.Println("sim: play")
}

func (st *SimTransport) Pause() {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.advance()
	st.playing = false
	st.log.Println("sim: pause")
}

func (st *SimTransport) SeekTo(positionMs int64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.positionMs = positionMs
	st.updatedAt = time.Now()
	st.log.Printf("sim: seek to %dms", positionMs)
}

func (st *SimTransport) SetRate(rate float64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.advance()
	st.rate = rate
	st.log.Printf("sim: rate %.3f", rate)
}

func (st *SimTransport) SetVolume(volume float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.volume = volume
}

func (st *SimTransport) PositionMs() int64 {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.advance()
	return st.positionMs
}

// advance folds elapsed wall-clock time into the position. Callers must
// hold the lock.
func (st *SimTransport) advance() {
	now := time.Now()
	if st.playing {
		elapsed := now.Sub(st.updatedAt).Milliseconds()
		st.positionMs += int64(float64(elapsed) * st.rate)
	}
	st.updatedAt = now
}
