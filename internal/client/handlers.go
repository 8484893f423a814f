// ABOUTME: Client read loop and per-event mirror updates
// ABOUTME: Every state change here is an echo of an authoritative server event
package client

import (
	"encoding/json"
	"log"

	"github.com/gorilla/websocket"

	"github.com/campfire-jams/jams-go/internal/protocol"
)

// readLoop pulls server events off the socket until the session closes
func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("Connection lost: %v", err)
				}
				if s.callbacks.Error != nil {
					s.callbacks.Error("Connection lost")
				}
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Bad frame from server: %v", err)
			continue
		}

		s.handle(msg)
	}
}

func (s *Session) handle(msg protocol.Message) {
	switch msg.Type {
	case protocol.EventRoomCreated:
		var p protocol.RoomCreated
		if msg.Decode(&p) == nil {
			s.enterRoom(p.RoomCode, nil)
		}

	case protocol.EventRoomJoined:
		var p protocol.RoomJoined
		if msg.Decode(&p) == nil {
			s.enterRoom(p.RoomCode, p.Players)
		}

	case protocol.EventUserJoined:
		var p protocol.UserJoined
		if msg.Decode(&p) == nil {
			log.Printf("%s joined at position %d", p.Username, p.PositionIdx)
		}

	case protocol.EventUserLeft:
		var p protocol.UserLeft
		if msg.Decode(&p) == nil {
			log.Printf("%s left the room", p.Username)
		}

	case protocol.EventPlayersUpdated:
		var p protocol.PlayersUpdated
		if msg.Decode(&p) == nil {
			s.mu.Lock()
			s.players = p.Players
			s.mu.Unlock()
			if s.callbacks.PlayersChanged != nil {
				s.callbacks.PlayersChanged(p.Players)
			}
		}

	case protocol.EventQueueSynced:
		var p protocol.QueueSynced
		if msg.Decode(&p) == nil {
			s.onQueueSynced(p)
		}

	case protocol.EventCurrentIndexSynced:
		var p protocol.CurrentIndexSynced
		if msg.Decode(&p) == nil {
			s.mu.Lock()
			s.currentIdx = p.CurrentIdx
			playing, paused, idx := s.isPlaying, s.paused, s.currentIdx
			s.mu.Unlock()
			s.notifyPlayState(playing, paused, idx)
		}

	case protocol.EventSongStarted:
		var p protocol.SongStarted
		if msg.Decode(&p) == nil {
			s.onSongStarted(p)
		}

	case protocol.EventAudioStreamReady:
		var p protocol.AudioStreamReady
		if msg.Decode(&p) == nil {
			s.cacheCover(p.Song)
			s.audio.Start(p.TotalChunks)
		}

	case protocol.EventAudioChunk:
		var p protocol.AudioChunk
		if msg.Decode(&p) == nil {
			s.audio.OnChunk(p.ChunkIndex, p.AudioData)
		}

	case protocol.EventStreamPaused:
		var p protocol.StreamControl
		if msg.Decode(&p) == nil {
			s.mu.Lock()
			s.paused = true
			playing, idx := s.isPlaying, s.currentIdx
			s.mu.Unlock()
			s.audio.Pause()
			s.notifyPlayState(playing, true, idx)
		}

	case protocol.EventStreamResumed:
		var p protocol.StreamControl
		if msg.Decode(&p) == nil {
			s.mu.Lock()
			s.paused = false
			playing, idx := s.isPlaying, s.currentIdx
			s.mu.Unlock()
			s.audio.Resume(p.Position)
			s.notifyPlayState(playing, false, idx)
		}

	case protocol.EventStreamSeeked:
		var p protocol.StreamControl
		if msg.Decode(&p) == nil {
			s.audio.SeekTo(p.Position)
		}

	case protocol.EventURLProcessing:
		var p protocol.URLProcessing
		if msg.Decode(&p) == nil && s.callbacks.URLStatus != nil {
			s.callbacks.URLStatus("processing", p.Message)
		}

	case protocol.EventURLProcessed:
		var p protocol.URLProcessed
		if msg.Decode(&p) == nil {
			if p.Song != nil {
				s.cacheCover(*p.Song)
			}
			if s.callbacks.URLStatus != nil {
				s.callbacks.URLStatus(p.Status, p.Message)
			}
		}

	case protocol.EventUserTalkingUpdate:
		var p protocol.UserTalkingUpdate
		if msg.Decode(&p) == nil && s.callbacks.TalkingChanged != nil {
			s.callbacks.TalkingChanged(p.Username, p.IsTalking)
		}

	case protocol.EventVoiceData:
		var p protocol.VoiceData
		if msg.Decode(&p) == nil && s.callbacks.VoiceFrame != nil {
			s.callbacks.VoiceFrame(p.Username, p.Data)
		}

	case protocol.EventError:
		var p protocol.ErrorPayload
		if msg.Decode(&p) == nil {
			log.Printf("Server error: %s", p.Message)
			if s.callbacks.Error != nil {
				s.callbacks.Error(p.Message)
			}
		}

	default:
		log.Printf("Unhandled event type %q", msg.Type)
	}
}

func (s *Session) enterRoom(code string, players []protocol.Player) {
	s.mu.Lock()
	s.roomCode = code
	if players != nil {
		s.players = players
	}
	s.mu.Unlock()

	log.Printf("Entered room %s", code)
	if s.callbacks.RoomEntered != nil {
		s.callbacks.RoomEntered(code)
	}
	if players != nil && s.callbacks.PlayersChanged != nil {
		s.callbacks.PlayersChanged(players)
	}
}

// onQueueSynced installs the authoritative queue, re-materializing cover art
// from the local cache. The first track of a fresh queue auto-plays so the
// room starts as soon as anybody adds music.
func (s *Session) onQueueSynced(p protocol.QueueSynced) {
	restored := protocol.RestoreQueue(p.Queue, s.coverFor)

	s.mu.Lock()
	s.queue = restored
	if s.currentIdx >= len(restored) {
		s.currentIdx = -1
	}
	autoPlay := !s.isPlaying && s.currentIdx == -1 && len(restored) > 0
	s.mu.Unlock()

	if s.callbacks.QueueChanged != nil {
		s.callbacks.QueueChanged(restored)
	}

	if autoPlay {
		if err := s.PlaySong(0); err != nil {
			log.Printf("Auto-play failed: %v", err)
		}
	}
}

func (s *Session) onSongStarted(p protocol.SongStarted) {
	s.cacheCover(p.Song)

	s.mu.Lock()
	s.currentIdx = p.SongIndex
	s.isPlaying = true
	s.paused = false
	s.mu.Unlock()

	// New track, new buffer; drop the old stream state.
	s.audio.Reset()

	log.Printf("Now playing: %s", p.Song.DisplayTitle())
	if s.callbacks.SongStarted != nil {
		s.callbacks.SongStarted(p.Song, p.SongIndex)
	}
	s.notifyPlayState(true, false, p.SongIndex)
}

func (s *Session) notifyPlayState(isPlaying, paused bool, currentIdx int) {
	if s.callbacks.PlayStateChanged != nil {
		s.callbacks.PlayStateChanged(isPlaying, paused, currentIdx)
	}
}

// cacheCover remembers a track's cover bytes for queue restoration
func (s *Session) cacheCover(t protocol.Track) {
	if t.SongID == "" || len(t.CoverImage) == 0 {
		return
	}
	s.mu.Lock()
	s.covers[t.SongID] = t.CoverImage
	s.mu.Unlock()
}

// coverFor is the RestoreQueue lookup over the local cache
func (s *Session) coverFor(songID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cover, ok := s.covers[songID]
	return cover, ok
}
