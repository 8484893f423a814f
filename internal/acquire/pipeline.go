// ABOUTME: Acquisition pipeline turning a track URL into a library-ready Track
// ABOUTME: Runs the external downloader and assembles metadata off the event loop
package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/campfire-jams/jams-go/internal/protocol"
)

// Failure sentinels; each maps to one user-facing message via UserMessage.
var (
	ErrInvalidURL     = errors.New("invalid track URL")
	ErrDownloadFailed = errors.New("downloader failed")
	ErrSidecarMissing = errors.New("download metadata not found")
	ErrFileNotFound   = errors.New("downloaded file not found")
	ErrTagParse       = errors.New("failed to read audio tags")
)

// UserMessage maps a pipeline error to the message shown to the initiator
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidURL):
		return "Invalid track URL"
	case errors.Is(err, ErrDownloadFailed):
		return "Failed to download song"
	case errors.Is(err, ErrSidecarMissing):
		return "Download metadata not found"
	case errors.Is(err, ErrFileNotFound):
		return "Downloaded file not found"
	case errors.Is(err, ErrTagParse):
		return "Failed to read song metadata"
	default:
		return "Failed to process URL"
	}
}

// Downloader fetches one URL into the downloads directory and writes a JSON
// metadata sidecar at sidecarPath. Implemented by SpotDL in production and by
// fakes in tests.
type Downloader interface {
	Download(ctx context.Context, url, sidecarPath string) error
}

// SpotDL shells out to the spotdl command line tool
type SpotDL struct {
	Command string // binary name, "spotdl" if empty
	Dir     string // downloads directory passed as --output
}

func (d SpotDL) Download(ctx context.Context, url, sidecarPath string) error {
	command := d.Command
	if command == "" {
		command = "spotdl"
	}

	cmd := exec.CommandContext(ctx, command,
		"--output", d.Dir,
		"--format", "mp3",
		"--save-file", sidecarPath,
		url,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Printf("Running: %s", cmd.String())
	if err := cmd.Run(); err != nil {
		log.Printf("Download failed: %s", stderr.String())
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return nil
}

// Pipeline drives one download job at a time. It holds no shared state and is
// safe to call from a worker goroutine; the caller commits the resulting
// Track to the library and queue back on the event loop.
type Pipeline struct {
	DownloadsDir string
	Downloader   Downloader
}

// NewPipeline builds a pipeline backed by the spotdl downloader
func NewPipeline(downloadsDir string) *Pipeline {
	return &Pipeline{
		DownloadsDir: downloadsDir,
		Downloader:   SpotDL{Dir: downloadsDir},
	}
}

// Fetch downloads the URL and assembles a complete Track. The song id must
// already be extracted and deduplicated against the library by the caller.
// The metadata sidecar is deleted once read; the audio file stays.
func (p *Pipeline) Fetch(ctx context.Context, url, songID string) (protocol.Track, error) {
	jobID := uuid.New().String()
	sidecarPath := filepath.Join(p.DownloadsDir, jobID+".spotdl")

	if err := p.Downloader.Download(ctx, url, sidecarPath); err != nil {
		return protocol.Track{}, err
	}

	sc, err := readSidecar(sidecarPath)
	if err != nil {
		return protocol.Track{}, err
	}
	if err := os.Remove(sidecarPath); err != nil {
		log.Printf("Warning: could not remove sidecar %s: %v", sidecarPath, err)
	}

	audioPath, err := locateDownload(p.DownloadsDir, sc.Name)
	if err != nil {
		return protocol.Track{}, err
	}

	track, err := buildTrack(audioPath, url, songID, sc)
	if err != nil {
		return protocol.Track{}, err
	}

	log.Printf("Successfully downloaded: %s", track.DisplayTitle())
	return track, nil
}
