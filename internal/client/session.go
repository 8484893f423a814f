// ABOUTME: Client session: local mirror of room state plus control emitters
// ABOUTME: Controls are broadcast first; the mirror only moves on server echoes
package client

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campfire-jams/jams-go/internal/protocol"
)

const (
	connectTimeout  = 10 * time.Second
	connectAttempts = 3
	connectBackoff  = 2 * time.Second

	// seekDebounce collapses a burst of seek inputs into one emission
	seekDebounce = 500 * time.Millisecond
)

// Callbacks notify the UI layer of mirror changes. Nil fields are skipped.
// They fire on the session read loop; receivers must not block.
type Callbacks struct {
	RoomEntered      func(roomCode string)
	QueueChanged     func(queue []protocol.Track)
	PlayersChanged   func(players []protocol.Player)
	PlayStateChanged func(isPlaying, paused bool, currentIdx int)
	SongStarted      func(song protocol.Track, index int)
	URLStatus        func(status, message string)
	TalkingChanged   func(username string, talking bool)
	VoiceFrame       func(username string, data []byte)
	Error            func(message string)
}

// Session is one client's connection to a jam session server. State fields
// mirror the server's room state and change only when a server event lands;
// user actions emit control messages and wait for the echo.
type Session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	callbacks Callbacks

	mu         sync.Mutex
	roomCode   string
	username   string
	colorIdx   int
	queue      []protocol.Track
	currentIdx int
	isPlaying  bool
	paused     bool
	players    []protocol.Player
	covers     map[string][]byte // local cover cache by song_id

	audio *AudioStream

	seekMu      sync.Mutex
	seekTimer   *time.Timer
	pendingSeek float64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Connect dials the server with bounded retries and starts the read loop
func Connect(serverURL, username string, colorIdx int, callbacks Callbacks) (*Session, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("bad server URL: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/jams"
	}

	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}

	var conn *websocket.Conn
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		conn, _, err = dialer.Dial(u.String(), nil)
		if err == nil {
			break
		}
		log.Printf("Connect attempt %d/%d failed: %v", attempt, connectAttempts, err)
		if attempt < connectAttempts {
			time.Sleep(connectBackoff)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u.String(), err)
	}

	s := &Session{
		conn:       conn,
		callbacks:  callbacks,
		username:   username,
		colorIdx:   colorIdx,
		currentIdx: -1,
		covers:     make(map[string][]byte),
		stopChan:   make(chan struct{}),
	}
	s.audio = NewAudioStream(s.requestChunk)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop()
	}()

	return s, nil
}

// Close shuts the session down
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.seekMu.Lock()
		if s.seekTimer != nil {
			s.seekTimer.Stop()
			s.seekTimer = nil
		}
		s.seekMu.Unlock()
		s.audio.Stop()
		s.conn.Close()
	})
	s.wg.Wait()
}

// emit serializes one control message onto the socket
func (s *Session) emit(msgType string, payload interface{}) error {
	msg, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Mirror accessors

// RoomCode returns the joined room code, empty before room entry
func (s *Session) RoomCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomCode
}

// Queue returns a snapshot of the mirrored queue
func (s *Session) Queue() []protocol.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := make([]protocol.Track, len(s.queue))
	copy(q, s.queue)
	return q
}

// Players returns a snapshot of the mirrored roster
func (s *Session) Players() []protocol.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := make([]protocol.Player, len(s.players))
	copy(p, s.players)
	return p
}

// PlayState returns the mirrored playback state
func (s *Session) PlayState() (isPlaying, paused bool, currentIdx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isPlaying, s.paused, s.currentIdx
}

// Position returns the local playback clock in seconds
func (s *Session) Position() float64 {
	return s.audio.Position()
}

// Control emitters. None of these touch the mirror; state changes arrive as
// server broadcasts like everyone else's.

// CreateRoom asks the server for a new room
func (s *Session) CreateRoom() error {
	return s.emit(protocol.EventCreateRoom, protocol.CreateRoom{
		Username: s.username,
		ColorIdx: s.colorIdx,
	})
}

// JoinRoom asks to join an existing room by code
func (s *Session) JoinRoom(code string) error {
	return s.emit(protocol.EventJoinRoom, protocol.JoinRoom{
		RoomCode: code,
		Username: s.username,
		ColorIdx: s.colorIdx,
	})
}

// AddURL submits a track URL for acquisition
func (s *Session) AddURL(trackURL string) error {
	return s.emit(protocol.EventAddURLToQueue, protocol.AddURLToQueue{
		RoomCode: s.RoomCode(),
		URL:      trackURL,
	})
}

// PlaySong starts playback of a queue index for the whole room
func (s *Session) PlaySong(index int) error {
	return s.emit(protocol.EventPlaySong, protocol.PlaySong{
		RoomCode:  s.RoomCode(),
		SongIndex: index,
	})
}

// Pause pauses the room's stream at the local position
func (s *Session) Pause() error {
	_, _, idx := s.PlayState()
	return s.emit(protocol.EventPauseStream, protocol.StreamControl{
		RoomCode:  s.RoomCode(),
		SongIndex: idx,
		Position:  s.audio.Position(),
	})
}

// Resume resumes the room's stream from the pause position
func (s *Session) Resume() error {
	_, _, idx := s.PlayState()
	return s.emit(protocol.EventResumeStream, protocol.StreamControl{
		RoomCode:  s.RoomCode(),
		SongIndex: idx,
		Position:  s.audio.Position(),
	})
}

// Seek schedules a jump to a position in seconds. Seeks landing within the
// debounce window collapse into a single emission of the latest position,
// so a drag or a held key produces one seek_stream for its final target.
func (s *Session) Seek(position float64) error {
	s.seekMu.Lock()
	defer s.seekMu.Unlock()
	s.pendingSeek = position
	if s.seekTimer == nil {
		s.seekTimer = time.AfterFunc(seekDebounce, s.flushSeek)
	}
	return nil
}

// flushSeek emits the latest debounced seek target
func (s *Session) flushSeek() {
	s.seekMu.Lock()
	position := s.pendingSeek
	s.seekTimer = nil
	s.seekMu.Unlock()

	select {
	case <-s.stopChan:
		return
	default:
	}

	_, _, idx := s.PlayState()
	if err := s.emit(protocol.EventSeekStream, protocol.StreamControl{
		RoomCode:  s.RoomCode(),
		SongIndex: idx,
		Position:  position,
	}); err != nil {
		log.Printf("Seek emit failed: %v", err)
	}
}

// NextSong advances the room to the next queue entry
func (s *Session) NextSong() error {
	s.mu.Lock()
	next := s.currentIdx + 1
	size := len(s.queue)
	s.mu.Unlock()
	if next >= size {
		return nil
	}
	return s.PlaySong(next)
}

// PrevSong moves the room to the previous queue entry
func (s *Session) PrevSong() error {
	s.mu.Lock()
	prev := s.currentIdx - 1
	s.mu.Unlock()
	if prev < 0 {
		return nil
	}
	return s.PlaySong(prev)
}

// RemoveFromQueue drops one queue entry and ships the new queue
func (s *Session) RemoveFromQueue(index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.queue) {
		s.mu.Unlock()
		return fmt.Errorf("queue index %d out of range", index)
	}
	next := make([]protocol.Track, 0, len(s.queue)-1)
	next = append(next, s.queue[:index]...)
	next = append(next, s.queue[index+1:]...)
	code := s.roomCode
	s.mu.Unlock()

	return s.emit(protocol.EventQueueUpdated, protocol.QueueUpdated{
		RoomCode: code,
		Queue:    protocol.StripQueue(next),
	})
}

// ShuffleQueue reorders the queue randomly, keeping the playing track where
// it is so the room's current index stays valid.
func (s *Session) ShuffleQueue() error {
	s.mu.Lock()
	shuffled := shuffleAround(s.queue, s.currentIdx, rand.Intn)
	code := s.roomCode
	s.mu.Unlock()

	return s.emit(protocol.EventQueueUpdated, protocol.QueueUpdated{
		RoomCode: code,
		Queue:    protocol.StripQueue(shuffled),
	})
}

// shuffleAround returns a shuffled copy of queue with the pinned index left
// in place. Pass a negative pin to shuffle everything.
func shuffleAround(queue []protocol.Track, pin int, intn func(int) int) []protocol.Track {
	out := make([]protocol.Track, len(queue))
	copy(out, queue)

	// Fisher-Yates over every slot except the pinned one.
	movable := make([]int, 0, len(out))
	for i := range out {
		if i != pin {
			movable = append(movable, i)
		}
	}
	for i := len(movable) - 1; i > 0; i-- {
		j := intn(i + 1)
		a, b := movable[i], movable[j]
		out[a], out[b] = out[b], out[a]
	}
	return out
}

// SetTalking reports the local voice-activity flag
func (s *Session) SetTalking(talking bool) error {
	return s.emit(protocol.EventUserTalkingState, protocol.UserTalkingState{
		RoomCode:  s.RoomCode(),
		Username:  s.username,
		IsTalking: talking,
	})
}

// SendVoice ships one encoded voice frame to the room
func (s *Session) SendVoice(frame []byte) error {
	return s.emit(protocol.EventVoiceData, protocol.VoiceData{
		RoomCode: s.RoomCode(),
		Username: s.username,
		Data:     frame,
	})
}

// requestChunk is the audio stream's pull hook
func (s *Session) requestChunk(chunkIndex int) {
	if err := s.emit(protocol.EventRequestAudioChunk, protocol.RequestAudioChunk{
		RoomCode:   s.RoomCode(),
		ChunkIndex: chunkIndex,
	}); err != nil {
		log.Printf("Chunk request failed: %v", err)
	}
}
