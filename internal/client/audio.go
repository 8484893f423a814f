// ABOUTME: Pull-style audio chunk stream with a local playback clock
// ABOUTME: Requests chunks one ahead and tracks position by chunks served
package client

import (
	"log"
	"sync"

	"github.com/campfire-jams/jams-go/internal/stream"
)

// AudioStream drives playback of one room stream. The server never pushes
// audio; this side requests chunk i, plays it, then requests i+1, so a slow
// client simply streams slower instead of building a backlog.
type AudioStream struct {
	request func(chunkIndex int)

	mu        sync.Mutex
	out       *Output
	outFailed bool
	total     int
	next      int
	active    bool
	paused    bool
	baseChunk int
	served    int
}

// NewAudioStream creates a stream that pulls chunks through request.
// The output device opens lazily on the first Start.
func NewAudioStream(request func(chunkIndex int)) *AudioStream {
	return &AudioStream{request: request}
}

// Start begins streaming a freshly loaded track from chunk 0
func (a *AudioStream) Start(totalChunks int) {
	a.mu.Lock()
	a.total = totalChunks
	a.next = 0
	a.baseChunk = 0
	a.served = 0
	a.active = true
	a.paused = false
	a.ensureOutput()
	if a.out != nil {
		a.out.Reset()
	}
	a.mu.Unlock()

	a.request(0)
}

// OnChunk accepts one served chunk. Out-of-order chunks (stale responses
// from before a seek) are dropped; the next request goes out immediately.
func (a *AudioStream) OnChunk(chunkIndex int, data []byte) {
	a.mu.Lock()
	if !a.active || a.paused || chunkIndex != a.next {
		a.mu.Unlock()
		return
	}

	if a.out != nil {
		a.out.Write(data)
	}
	a.served++
	a.next++
	requestNext := a.next < a.total
	if !requestNext {
		a.active = false
		log.Printf("Stream complete at chunk %d", chunkIndex)
	}
	next := a.next
	a.mu.Unlock()

	if requestNext {
		a.request(next)
	}
}

// Pause halts requesting and playback at the current position
func (a *AudioStream) Pause() {
	a.mu.Lock()
	a.paused = true
	if a.out != nil {
		a.out.Pause()
	}
	a.mu.Unlock()
}

// Resume realigns the chunk cursor to the shared position and restarts
func (a *AudioStream) Resume(position float64) {
	a.mu.Lock()
	a.paused = false
	a.realign(position)
	if a.out != nil {
		a.out.Resume()
	}
	active, next := a.active, a.next
	a.mu.Unlock()

	if active {
		a.request(next)
	}
}

// SeekTo moves the chunk cursor; requesting continues unless paused
func (a *AudioStream) SeekTo(position float64) {
	a.mu.Lock()
	a.realign(position)
	if a.out != nil {
		a.out.Reset() // drop buffered audio from the old position
	}
	active := a.active && !a.paused
	next := a.next
	a.mu.Unlock()

	if active {
		a.request(next)
	}
}

// realign points the cursor at the chunk containing position.
// Callers hold the mutex.
func (a *AudioStream) realign(position float64) {
	chunk := stream.ChunkIndexForPosition(position)
	a.next = chunk
	a.baseChunk = chunk
	a.served = 0
	if chunk < a.total {
		a.active = true
	}
}

// Position returns the playback clock in seconds, derived from chunks served
// since the last realignment.
func (a *AudioStream) Position() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return stream.PositionForChunk(a.baseChunk + a.served)
}

// WriteVoice plays one voice frame through the shared device, opening it if
// no music has started yet
func (a *AudioStream) WriteVoice(data []byte) {
	a.mu.Lock()
	a.ensureOutput()
	out := a.out
	a.mu.Unlock()

	if out != nil {
		out.WriteVoice(data)
	}
}

// Reset drops all stream state ahead of a new track
func (a *AudioStream) Reset() {
	a.mu.Lock()
	a.active = false
	a.total = 0
	a.next = 0
	a.baseChunk = 0
	a.served = 0
	a.paused = false
	if a.out != nil {
		a.out.Reset()
	}
	a.mu.Unlock()
}

// Stop closes the output device
func (a *AudioStream) Stop() {
	a.mu.Lock()
	a.active = false
	if a.out != nil {
		a.out.Close()
		a.out = nil
	}
	a.mu.Unlock()
}

// ensureOutput opens the output device once; a machine with no usable audio
// device keeps streaming silently. Callers hold the mutex.
func (a *AudioStream) ensureOutput() {
	if a.out != nil || a.outFailed {
		return
	}
	out, err := NewOutput()
	if err != nil {
		log.Printf("Audio output unavailable: %v", err)
		a.outFailed = true
		return
	}
	a.out = out
}
