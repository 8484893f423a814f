// ABOUTME: Voice capture and playback loops with talking-state detection
// ABOUTME: Capture feeds encoded frames out; playback drains a bounded queue
package voice

import (
	"log"
	"math"
	"sync"
)

// Talking detection: frames whose RMS clears the threshold mark the user as
// talking; the flag drops after hangoverFrames quiet frames so the indicator
// does not flicker between words.
const (
	rmsThreshold   = 500.0
	hangoverFrames = 25 // 500ms at 20ms frames
)

// CaptureSource yields one 20ms PCM frame per call, blocking until ready.
// Implemented by the platform microphone layer and by fakes in tests.
type CaptureSource interface {
	ReadFrame() ([]int16, error)
	Close() error
}

// Capture runs the microphone loop: read, detect activity, encode, hand off
type Capture struct {
	source  CaptureSource
	encoder *Encoder

	// OnFrame receives each encoded packet while capture runs
	OnFrame func(packet []byte)

	// OnTalking receives transitions of the voice-activity flag
	OnTalking func(talking bool)

	quiet   int
	talking bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCapture builds a capture loop over a source
func NewCapture(source CaptureSource) (*Capture, error) {
	enc, err := NewEncoder()
	if err != nil {
		return nil, err
	}
	return &Capture{
		source:   source,
		encoder:  enc,
		stopChan: make(chan struct{}),
	}, nil
}

// Start runs the capture loop until Stop
func (c *Capture) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
}

// Stop ends the loop and closes the source
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
	c.source.Close()
}

func (c *Capture) run() {
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		frame, err := c.source.ReadFrame()
		if err != nil {
			log.Printf("Voice capture read error: %v", err)
			return
		}

		c.updateTalking(frameRMS(frame))

		if !c.talking {
			continue // silence is not shipped
		}

		packet, err := c.encoder.Encode(frame)
		if err != nil {
			log.Printf("Voice encode error: %v", err)
			continue
		}
		if c.OnFrame != nil {
			c.OnFrame(packet)
		}
	}
}

// updateTalking applies the threshold with hangover and fires OnTalking on
// transitions.
func (c *Capture) updateTalking(rms float64) {
	was := c.talking
	if rms >= rmsThreshold {
		c.talking = true
		c.quiet = 0
	} else if c.talking {
		c.quiet++
		if c.quiet >= hangoverFrames {
			c.talking = false
		}
	}

	if c.talking != was && c.OnTalking != nil {
		c.OnTalking(c.talking)
	}
}

// frameRMS computes the root-mean-square level of one frame
func frameRMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// playbackQueueDepth bounds buffered frames; voice is latency-sensitive, so
// late frames are dropped rather than queued.
const playbackQueueDepth = 16

// Playback decodes incoming packets and feeds PCM to an output sink
type Playback struct {
	decoder *Decoder
	frames  chan []byte

	// Sink receives decoded PCM frames in arrival order
	Sink func(pcm []int16)

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPlayback builds a playback loop
func NewPlayback() (*Playback, error) {
	dec, err := NewDecoder()
	if err != nil {
		return nil, err
	}
	return &Playback{
		decoder:  dec,
		frames:   make(chan []byte, playbackQueueDepth),
		stopChan: make(chan struct{}),
	}, nil
}

// Enqueue accepts one encoded packet, dropping it if the queue is full.
// Reports whether the packet was accepted.
func (p *Playback) Enqueue(packet []byte) bool {
	select {
	case p.frames <- packet:
		return true
	default:
		return false
	}
}

// Start runs the decode loop until Stop
func (p *Playback) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run()
	}()
}

// Stop ends the loop
func (p *Playback) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	p.wg.Wait()
}

func (p *Playback) run() {
	for {
		select {
		case packet := <-p.frames:
			pcm, err := p.decoder.Decode(packet)
			if err != nil {
				log.Printf("Voice decode error: %v", err)
				continue
			}
			if p.Sink != nil {
				p.Sink(pcm)
			}
		case <-p.stopChan:
			return
		}
	}
}
