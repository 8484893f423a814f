// ABOUTME: Sidecar parsing, downloaded-file location, and tag ingestion
// ABOUTME: Merges downloader metadata with embedded tags into one Track
package acquire

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"

	"github.com/campfire-jams/jams-go/internal/protocol"
)

// sidecar is the first element of the downloader's JSON metadata file
type sidecar struct {
	Name     string  `json:"name"`
	Artist   string  `json:"artist"`
	Album    string  `json:"album_name"`
	Duration float64 `json:"duration"`
}

// readSidecar parses the downloader's save-file, a JSON array whose first
// element describes the track.
func readSidecar(path string) (sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sidecar{}, fmt.Errorf("%w: %v", ErrSidecarMissing, err)
	}

	var entries []sidecar
	if err := json.Unmarshal(data, &entries); err != nil {
		return sidecar{}, fmt.Errorf("%w: bad sidecar JSON: %v", ErrSidecarMissing, err)
	}
	if len(entries) == 0 {
		return sidecar{}, fmt.Errorf("%w: empty sidecar", ErrSidecarMissing)
	}
	return entries[0], nil
}

// locateDownload finds the audio file the downloader wrote for a track name.
// The downloader names files "Artist - Name.mp3"; match on the name part.
func locateDownload(dir, name string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mp3") {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), ".mp3")
		parts := strings.SplitN(base, " - ", 2)
		if len(parts) == 2 && strings.TrimSpace(parts[1]) == name {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("%w: no file for %q in %s", ErrFileNotFound, name, dir)
}

// buildTrack merges sidecar fields with the file's embedded tags. Embedded
// tags win where present; a file with no tags at all falls back to the
// sidecar. Name and title are aliased so both are always set.
func buildTrack(audioPath, url, songID string, sc sidecar) (protocol.Track, error) {
	track := protocol.Track{
		SongID:    songID,
		Name:      sc.Name,
		Artist:    sc.Artist,
		Album:     sc.Album,
		LengthSec: int(sc.Duration),
		URL:       url,
		Filepath:  audioPath,
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return protocol.Track{}, fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		if errors.Is(err, tag.ErrNoTagsFound) {
			aliasNames(&track)
			return track, nil
		}
		return protocol.Track{}, fmt.Errorf("%w: %v", ErrTagParse, err)
	}

	if t := m.Title(); t != "" {
		track.Title = t
	}
	if a := m.Artist(); a != "" {
		track.Artist = a
	}
	if a := m.Album(); a != "" {
		track.Album = a
	}
	if pic := m.Picture(); pic != nil {
		track.CoverImage = pic.Data
	}

	aliasNames(&track)
	return track, nil
}

// aliasNames keeps name and title in step for clients that read either
func aliasNames(t *protocol.Track) {
	if t.Title == "" {
		t.Title = t.Name
	}
	if t.Name == "" {
		t.Name = t.Title
	}
}
