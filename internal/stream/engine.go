// ABOUTME: Per-room PCM streaming engine
// ABOUTME: Holds one canonical audio buffer per room and serves fixed-size chunks
package stream

import (
	"fmt"
	"log"

	"github.com/campfire-jams/jams-go/internal/protocol"
)

// Canonical audio format: every loaded track is normalized to this before
// chunks are served, so clients open exactly one output configuration.
const (
	SampleRate      = 44100
	Channels        = 1
	ChunkSize       = 4096          // bytes per chunk
	SamplesPerChunk = ChunkSize / 2 // 16-bit samples per chunk
)

// ChunkIndexForPosition maps a position in seconds to the chunk index that
// contains it. Clients must use the same formula to stay in frame-phase
// across pause/resume and seek.
func ChunkIndexForPosition(seconds float64) int {
	if seconds < 0 {
		return 0
	}
	return int(seconds * SampleRate / SamplesPerChunk)
}

// PositionForChunk maps a chunk index back to its start time in seconds
func PositionForChunk(chunkIndex int) float64 {
	return float64(chunkIndex) * SamplesPerChunk / SampleRate
}

// Engine owns the decoded audio buffers, keyed by room code. It is oblivious
// to play/pause; that policy lives in the sync bus. The engine is driven
// only from the server event loop and carries no locking.
type Engine struct {
	buffers map[string][]byte
}

// NewEngine creates an engine with no loaded buffers
func NewEngine() *Engine {
	return &Engine{buffers: make(map[string][]byte)}
}

// Load decodes a track's audio file into the canonical buffer for the room,
// replacing whatever was loaded before, and returns the total chunk count.
func (e *Engine) Load(roomCode string, track protocol.Track) (int, error) {
	pcm, err := DecodeFile(track.Filepath)
	if err != nil {
		return 0, fmt.Errorf("failed to load %q for room %s: %w", track.DisplayTitle(), roomCode, err)
	}

	total := e.LoadPCM(roomCode, pcm)
	log.Printf("Loaded %q for room %s: %d bytes, %d chunks",
		track.DisplayTitle(), roomCode, len(pcm), total)
	return total, nil
}

// LoadPCM installs an already-canonical PCM buffer for the room,
// replacing whatever was loaded before, and returns the chunk count.
func (e *Engine) LoadPCM(roomCode string, pcm []byte) int {
	e.buffers[roomCode] = pcm
	return len(pcm) / ChunkSize
}

// Serve returns the chunk at chunkIndex, or nil past EOF or with no buffer
// loaded. A final partial chunk shorter than ChunkSize is served as-is.
func (e *Engine) Serve(roomCode string, chunkIndex int) []byte {
	buf, ok := e.buffers[roomCode]
	if !ok || chunkIndex < 0 {
		return nil
	}

	start := chunkIndex * ChunkSize
	if start >= len(buf) {
		return nil
	}
	end := start + ChunkSize
	if end > len(buf) {
		end = len(buf)
	}
	return buf[start:end]
}

// TotalChunks returns the whole-chunk count for the room's buffer
func (e *Engine) TotalChunks(roomCode string) int {
	return len(e.buffers[roomCode]) / ChunkSize
}

// Loaded reports whether a buffer is loaded for the room
func (e *Engine) Loaded(roomCode string) bool {
	_, ok := e.buffers[roomCode]
	return ok
}

// Unload drops the room's buffer, on room deletion or stop
func (e *Engine) Unload(roomCode string) {
	delete(e.buffers, roomCode)
}
