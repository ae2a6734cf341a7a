package audio

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// Resolver maps a track id to a streamable URL.
type Resolver func(trackId string) (string, error)

var speakerOnce sync.Once

// BeepTransport plays tracks through the system speaker. The whole
// stream is buffered in memory before playback so seeks are cheap; fine
// for single tracks, not for hour-long streams.
type BeepTransport struct {
	resolver Resolver
	log      *log.Logger

	mu       sync.Mutex
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	sampler  *beep.Resampler
	volume   *effects.Volume
}

func NewBeepTransport(resolver Resolver, logger *log.Logger) *BeepTransport {
	return &BeepTransport{
		resolver: resolver,
		log:      logger,
	}
}

func (bt *BeepTransport) Load(trackId string, startMs int64) error {
	url, err := bt.resolver(trackId)
	if err != nil {
		return fmt.Errorf("resolve track: %w", err)
	}

	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("fetch stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch stream: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	streamer, format, err := mp3.Decode(nopSeekCloser{bytes.NewReader(data)})
	if err != nil {
		return fmt.Errorf("decode stream: %w", err)
	}

	speakerOnce.Do(func() {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			bt.log.Println("speaker init:", err)
		}
	})

	bt.mu.Lock()
	defer bt.mu.Unlock()

	if bt.streamer != nil {
		bt.streamer.Close()
	}

	bt.streamer = streamer
	bt.format = format
	bt.ctrl = &beep.Ctrl{Streamer: streamer, Paused: true}
	bt.sampler = beep.ResampleRatio(4, 1.0, bt.ctrl)
	bt.volume = &effects.Volume{Streamer: bt.sampler, Base: 2}

	if err := streamer.Seek(format.SampleRate.N(time.Duration(startMs) * time.Millisecond)); err != nil {
		return fmt.Errorf("seek: %w", err)
	}

	speaker.Clear()
	speaker.Play(bt.volume)

	bt.log.Printf("loaded track %q at %dms", trackId, startMs)
	return nil
}

func (bt *BeepTransport) Play() {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	if bt.ctrl == nil {
		return
	}

	speaker.Lock()
	bt.ctrl.Paused = false
	speaker.Unlock()
}

func (bt *BeepTransport) Pause() {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	if bt.ctrl == nil {
		return
	}

	speaker.Lock()
	bt.ctrl.Paused = true
	speaker.Unlock()
}

func (bt *BeepTransport) SeekTo(positionMs int64) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	if bt.streamer == nil {
		return
	}

	speaker.Lock()
	if err := bt.streamer.Seek(bt.format.SampleRate.N(time.Duration(positionMs) * time.Millisecond)); err != nil {
		bt.log.Println("seek:", err)
	}
	speaker.Unlock()
}

func (bt *BeepTransport) SetRate(rate float64) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	if bt.sampler == nil {
		return
	}

	speaker.Lock()
	bt.sampler.SetRatio(rate)
	speaker.Unlock()
}

func (bt *BeepTransport) SetVolume(volume float64) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	if bt.volume == nil {
		return
	}

	speaker.Lock()
	if volume <= 0 {
		bt.volume.Silent = true
	} else {
		bt.volume.Silent = false
		bt.volume.Volume = math.Log2(volume)
	}
	speaker.Unlock()
}

func (bt *BeepTransport) PositionMs() int64 {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	if bt.streamer == nil {
		return 0
	}

	speaker.Lock()
	pos := bt.streamer.Position()
	speaker.Unlock()

	return bt.format.SampleRate.D(pos).Milliseconds()
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }
