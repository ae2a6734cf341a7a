package server

import (
	"sync"

	"github.com/jdavenport/go-listenroom/internal/catalog"
)

// TrackResolver is a read-through cache over the catalog so repeated
// track changes stay a fast lookup. Tracks are immutable once published,
// so entries never expire.
type TrackResolver struct {
	repo  catalog.Repository
	mu    sync.RWMutex
	cache map[string]catalog.Track
}

func NewTrackResolver(repo catalog.Repository) *TrackResolver {
	return &TrackResolver{
		repo:  repo,
		cache: make(map[string]catalog.Track),
	}
}

func (tr *TrackResolver) Resolve(trackId string) (catalog.Track, error) {
	tr.mu.RLock()
	track, ok := tr.cache[trackId]
	tr.mu.RUnlock()
	if ok {
		return track, nil
	}

	track, err := tr.repo.GetTrack(trackId)
	if err != nil {
		return catalog.Track{}, err
	}

	tr.mu.Lock()
	tr.cache[trackId] = track
	tr.mu.Unlock()

	return track, nil
}
