// ABOUTME: Content-addressed media library for downloaded tracks
// ABOUTME: Keeps an in-memory index keyed by song_id, persisted as a JSON file
package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/campfire-jams/jams-go/internal/protocol"
)

// ErrUnavailable wraps filesystem faults so callers can report
// "library unavailable" without inspecting the underlying error.
var ErrUnavailable = errors.New("library unavailable")

// Library is the disk-backed set of tracks the server has downloaded.
// Only the server event loop mutates it; disk writes are atomic per insert.
type Library struct {
	indexPath string
	tracks    []protocol.Track
	byID      map[string]int
}

// Open loads the library index from indexPath. A missing index file means an
// empty library; a present but unreadable one is a hard error.
func Open(indexPath string) (*Library, error) {
	lib := &Library{
		indexPath: indexPath,
		byID:      make(map[string]int),
	}

	data, err := os.ReadFile(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return lib, nil
		}
		return nil, fmt.Errorf("%w: reading index %s: %v", ErrUnavailable, indexPath, err)
	}

	var tracks []protocol.Track
	if err := json.Unmarshal(data, &tracks); err != nil {
		return nil, fmt.Errorf("%w: parsing index %s: %v", ErrUnavailable, indexPath, err)
	}

	for _, t := range tracks {
		if _, dup := lib.byID[t.SongID]; dup {
			log.Printf("Library index has duplicate song_id %s, keeping first", t.SongID)
			continue
		}
		lib.byID[t.SongID] = len(lib.tracks)
		lib.tracks = append(lib.tracks, t)
	}

	log.Printf("Library loaded: %d tracks from %s", len(lib.tracks), indexPath)
	return lib, nil
}

// Lookup returns the track for a song_id if present
func (l *Library) Lookup(songID string) (protocol.Track, bool) {
	idx, ok := l.byID[songID]
	if !ok {
		return protocol.Track{}, false
	}
	return l.tracks[idx], true
}

// CoverFor returns the cover image bytes for a song_id, for restoring
// cover art into a queue that was stripped for the wire.
func (l *Library) CoverFor(songID string) ([]byte, bool) {
	t, ok := l.Lookup(songID)
	if !ok || len(t.CoverImage) == 0 {
		return nil, false
	}
	return t.CoverImage, true
}

// Insert adds a track and flushes the index to disk. Tracks are immutable
// after insertion; inserting an existing song_id is rejected.
func (l *Library) Insert(track protocol.Track) error {
	if track.SongID == "" {
		return fmt.Errorf("track has no song_id")
	}
	if _, exists := l.byID[track.SongID]; exists {
		return fmt.Errorf("track %s already in library", track.SongID)
	}

	l.byID[track.SongID] = len(l.tracks)
	l.tracks = append(l.tracks, track)

	if err := l.flush(); err != nil {
		// Roll back the in-memory insert so the index and disk stay in step.
		l.tracks = l.tracks[:len(l.tracks)-1]
		delete(l.byID, track.SongID)
		return err
	}

	return nil
}

// Tracks returns a snapshot of all entries in insertion order
func (l *Library) Tracks() []protocol.Track {
	snapshot := make([]protocol.Track, len(l.tracks))
	copy(snapshot, l.tracks)
	return snapshot
}

// Len returns the number of entries
func (l *Library) Len() int {
	return len(l.tracks)
}

// flush writes the index atomically: serialize to a temp file in the same
// directory, then rename over the index path.
func (l *Library) flush() error {
	data, err := json.MarshalIndent(l.tracks, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding index: %v", ErrUnavailable, err)
	}

	dir := filepath.Dir(l.indexPath)
	tmp, err := os.CreateTemp(dir, ".music_data-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp index: %v", ErrUnavailable, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing temp index: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing temp index: %v", ErrUnavailable, err)
	}

	if err := os.Rename(tmpName, l.indexPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replacing index: %v", ErrUnavailable, err)
	}

	return nil
}
