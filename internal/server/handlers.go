// ABOUTME: Event handlers for every inbound protocol message
// ABOUTME: All handlers run on the event loop; downloads run as worker tasks
package server

import (
	"log"

	"github.com/campfire-jams/jams-go/internal/acquire"
	"github.com/campfire-jams/jams-go/internal/protocol"
	"github.com/campfire-jams/jams-go/internal/room"
)

// dispatch routes one inbound message to its handler
func (s *Server) dispatch(c *conn, msg protocol.Message) {
	switch msg.Type {
	case protocol.EventCreateRoom:
		s.handleCreateRoom(c, msg)
	case protocol.EventJoinRoom:
		s.handleJoinRoom(c, msg)
	case protocol.EventAddURLToQueue:
		s.handleAddURL(c, msg)
	case protocol.EventQueueUpdated:
		s.handleQueueUpdated(c, msg)
	case protocol.EventSyncCurrentIndex:
		s.handleSyncCurrentIndex(c, msg)
	case protocol.EventPlaySong:
		s.handlePlaySong(c, msg)
	case protocol.EventPauseStream:
		s.handleStreamControl(c, msg, protocol.EventStreamPaused)
	case protocol.EventResumeStream:
		s.handleStreamControl(c, msg, protocol.EventStreamResumed)
	case protocol.EventSeekStream:
		s.handleStreamControl(c, msg, protocol.EventStreamSeeked)
	case protocol.EventRequestAudioChunk:
		s.handleRequestAudioChunk(c, msg)
	case protocol.EventUserTalkingState:
		s.handleUserTalkingState(c, msg)
	case protocol.EventVoiceData:
		s.handleVoiceData(c, msg)
	default:
		log.Printf("Unknown message type %q from %s", msg.Type, c.sid)
	}
}

// maxUsernameLen is the roster rendering width
const maxUsernameLen = 6

// clampName enforces the username length bound regardless of what the
// client sent
func clampName(name string) string {
	if len(name) > maxUsernameLen {
		return name[:maxUsernameLen]
	}
	return name
}

// memberRoom resolves a room code and checks the sender belongs to it.
// Sends a protocol error and returns nil on either failure.
func (s *Server) memberRoom(c *conn, code string) *room.Room {
	r := s.rooms.Get(code)
	if r == nil {
		s.sendError(c, "Room not found")
		return nil
	}
	if r.Member(c.sid) == nil {
		s.sendError(c, "Not in room")
		return nil
	}
	return r
}

func (s *Server) handleCreateRoom(c *conn, msg protocol.Message) {
	var req protocol.CreateRoom
	if err := msg.Decode(&req); err != nil {
		s.sendError(c, "Invalid create_room payload")
		return
	}

	r := s.rooms.Create(c.sid, clampName(req.Username), req.ColorIdx)
	s.sendTo(c, protocol.EventRoomCreated, protocol.RoomCreated{RoomCode: r.Code})
}

func (s *Server) handleJoinRoom(c *conn, msg protocol.Message) {
	var req protocol.JoinRoom
	if err := msg.Decode(&req); err != nil {
		s.sendError(c, "Invalid join_room payload")
		return
	}

	r, p := s.rooms.Join(req.RoomCode, c.sid, clampName(req.Username), req.ColorIdx)
	if r == nil {
		s.sendError(c, "Room not found")
		return
	}

	s.sendTo(c, protocol.EventRoomJoined, protocol.RoomJoined{
		RoomCode: r.Code,
		Players:  r.Players(),
	})

	// Bring the joiner up to date with the shared session state.
	s.sendTo(c, protocol.EventQueueSynced, protocol.QueueSynced{
		Queue:     protocol.StripQueue(r.Queue),
		UpdatedBy: "server",
	})
	s.sendTo(c, protocol.EventCurrentIndexSynced, protocol.CurrentIndexSynced{
		RoomCode:   r.Code,
		CurrentIdx: r.CurrentIdx,
		UpdatedBy:  "server",
	})

	s.broadcastExcept(r, c.sid, protocol.EventUserJoined, protocol.UserJoined{
		Username:    p.Username,
		ColorIdx:    p.ColorIdx,
		PositionIdx: p.Position,
	})
	s.broadcast(r, protocol.EventPlayersUpdated, protocol.PlayersUpdated{
		Players: r.Players(),
	})
}

func (s *Server) handleDisconnect(c *conn) {
	delete(s.conns, c.sid)
	c.shutdown()

	var code string
	if prev := s.rooms.RoomOf(c.sid); prev != nil {
		code = prev.Code
	}

	r, p, deleted := s.rooms.RemoveBySID(c.sid)
	if p == nil {
		return
	}
	if deleted {
		s.engine.Unload(code)
		return
	}
	// RemoveBySID only deletes the room it found the sid in, so r is live here.
	s.broadcast(r, protocol.EventUserLeft, protocol.UserLeft{Username: p.Username})
	s.broadcast(r, protocol.EventPlayersUpdated, protocol.PlayersUpdated{
		Players: r.Players(),
	})
}

func (s *Server) handleAddURL(c *conn, msg protocol.Message) {
	var req protocol.AddURLToQueue
	if err := msg.Decode(&req); err != nil {
		s.sendError(c, "Invalid add_url_to_queue payload")
		return
	}

	r := s.memberRoom(c, req.RoomCode)
	if r == nil {
		return
	}

	log.Printf("Processing URL for room %s: %s", req.RoomCode, req.URL)
	s.sendTo(c, protocol.EventURLProcessing, protocol.URLProcessing{
		Message: "Processing URL...",
	})

	if !acquire.ValidURL(req.URL) {
		s.sendTo(c, protocol.EventURLProcessed, protocol.URLProcessed{
			Status:  protocol.StatusError,
			Message: acquire.UserMessage(acquire.ErrInvalidURL),
		})
		return
	}

	songID, err := acquire.ExtractSongID(req.URL)
	if err != nil {
		s.sendTo(c, protocol.EventURLProcessed, protocol.URLProcessed{
			Status:  protocol.StatusError,
			Message: acquire.UserMessage(acquire.ErrInvalidURL),
		})
		return
	}

	if track, ok := s.lib.Lookup(songID); ok {
		s.commitTrack(c.sid, req.RoomCode, track, "Song already in library, added to queue")
		return
	}

	// Download off the loop; commit the result back on it. The download runs
	// to completion even if the initiator disconnects meanwhile.
	url := req.URL
	roomCode := req.RoomCode
	sid := c.sid
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		track, err := s.pipeline.Fetch(s.baseCtx, url, songID)
		s.post(func() {
			if err != nil {
				log.Printf("Acquisition failed for %s: %v", url, err)
				s.sendToSID(sid, protocol.EventURLProcessed, protocol.URLProcessed{
					Status:  protocol.StatusError,
					Message: acquire.UserMessage(err),
				})
				return
			}

			// A racing download for the same song may have landed first.
			if _, dup := s.lib.Lookup(track.SongID); !dup {
				if err := s.lib.Insert(track); err != nil {
					log.Printf("Library insert failed for %s: %v", track.SongID, err)
					s.sendToSID(sid, protocol.EventURLProcessed, protocol.URLProcessed{
						Status:  protocol.StatusError,
						Message: "Failed to save song to library",
					})
					return
				}
			}
			s.commitTrack(sid, roomCode, track, "Song downloaded and added to queue")
		})
	}()
}

// commitTrack appends a track to the room queue, broadcasts the new queue,
// and acknowledges the initiator. Queue mutation precedes the url_processed
// acknowledgment. The room may have emptied out during a download; the
// library keeps the entry either way.
func (s *Server) commitTrack(sid, roomCode string, track protocol.Track, message string) {
	r := s.rooms.Get(roomCode)
	if r == nil {
		log.Printf("Room %s gone before track %s could be queued", roomCode, track.SongID)
		s.sendToSID(sid, protocol.EventURLProcessed, protocol.URLProcessed{
			Status:  protocol.StatusError,
			Message: "Room no longer exists",
		})
		return
	}

	r.AppendTrack(track)

	updatedBy := "server"
	if p := r.Member(sid); p != nil {
		updatedBy = p.Username
	}
	s.broadcast(r, protocol.EventQueueSynced, protocol.QueueSynced{
		Queue:     protocol.StripQueue(r.Queue),
		UpdatedBy: updatedBy,
	})

	song := track
	s.sendToSID(sid, protocol.EventURLProcessed, protocol.URLProcessed{
		Status:  protocol.StatusSuccess,
		Message: message,
		Song:    &song,
	})
}

func (s *Server) handleQueueUpdated(c *conn, msg protocol.Message) {
	var req protocol.QueueUpdated
	if err := msg.Decode(&req); err != nil {
		s.sendError(c, "Invalid queue_updated payload")
		return
	}

	r := s.memberRoom(c, req.RoomCode)
	if r == nil {
		return
	}

	r.ReplaceQueue(protocol.RestoreQueue(req.Queue, s.lib.CoverFor))
	if !r.ValidIndex(r.CurrentIdx) {
		r.CurrentIdx = -1
	}

	s.broadcast(r, protocol.EventQueueSynced, protocol.QueueSynced{
		Queue:     protocol.StripQueue(r.Queue),
		UpdatedBy: r.Member(c.sid).Username,
	})
}

func (s *Server) handleSyncCurrentIndex(c *conn, msg protocol.Message) {
	var req protocol.SyncCurrentIndex
	if err := msg.Decode(&req); err != nil {
		s.sendError(c, "Invalid sync_current_index payload")
		return
	}

	r := s.memberRoom(c, req.RoomCode)
	if r == nil {
		return
	}
	if req.CurrentIdx != -1 && !r.ValidIndex(req.CurrentIdx) {
		s.sendError(c, "Invalid current index")
		return
	}

	r.CurrentIdx = req.CurrentIdx
	s.broadcast(r, protocol.EventCurrentIndexSynced, protocol.CurrentIndexSynced{
		RoomCode:   r.Code,
		CurrentIdx: r.CurrentIdx,
		UpdatedBy:  r.Member(c.sid).Username,
	})
}

func (s *Server) handlePlaySong(c *conn, msg protocol.Message) {
	var req protocol.PlaySong
	if err := msg.Decode(&req); err != nil {
		s.sendError(c, "Invalid play_song payload")
		return
	}

	r := s.memberRoom(c, req.RoomCode)
	if r == nil {
		return
	}
	if !r.ValidIndex(req.SongIndex) {
		log.Printf("Ignoring play_song for out-of-range index %d in room %s", req.SongIndex, r.Code)
		return
	}
	// Two clients racing to start the same index; the first one won.
	if r.IsPlaying && r.CurrentIdx == req.SongIndex {
		return
	}

	track := r.Queue[req.SongIndex]

	// Load before anything moves so a decode failure leaves the room as it was.
	total, err := s.engine.Load(r.Code, track)
	if err != nil {
		log.Printf("Failed to load audio for room %s: %v", r.Code, err)
		s.sendError(c, "Failed to load audio for song")
		return
	}

	r.CurrentIdx = req.SongIndex
	r.IsPlaying = true
	r.Paused = false

	s.broadcast(r, protocol.EventSongStarted, protocol.SongStarted{
		RoomCode:  r.Code,
		SongIndex: req.SongIndex,
		Song:      track,
	})
	s.broadcast(r, protocol.EventAudioStreamReady, protocol.AudioStreamReady{
		RoomCode:    r.Code,
		Song:        track,
		TotalChunks: total,
	})
}

// handleStreamControl serves pause_stream, resume_stream, and seek_stream.
// The room flag flips on pause/resume; all three echo the position so every
// client realigns its chunk cursor to the same spot.
func (s *Server) handleStreamControl(c *conn, msg protocol.Message, broadcastType string) {
	var req protocol.StreamControl
	if err := msg.Decode(&req); err != nil {
		s.sendError(c, "Invalid stream control payload")
		return
	}

	r := s.memberRoom(c, req.RoomCode)
	if r == nil {
		return
	}

	switch broadcastType {
	case protocol.EventStreamPaused:
		r.Paused = true
	case protocol.EventStreamResumed:
		r.Paused = false
	}

	s.broadcast(r, broadcastType, protocol.StreamControl{
		RoomCode:  r.Code,
		SongIndex: req.SongIndex,
		Position:  req.Position,
	})
}

func (s *Server) handleRequestAudioChunk(c *conn, msg protocol.Message) {
	var req protocol.RequestAudioChunk
	if err := msg.Decode(&req); err != nil {
		s.sendError(c, "Invalid request_audio_chunk payload")
		return
	}

	r := s.rooms.Get(req.RoomCode)
	if r == nil || r.Member(c.sid) == nil {
		return
	}
	// Paused rooms serve nothing; clients resume requesting after
	// stream_resumed realigns their cursor.
	if r.Paused {
		return
	}

	chunk := s.engine.Serve(req.RoomCode, req.ChunkIndex)
	if chunk == nil {
		return
	}

	s.sendTo(c, protocol.EventAudioChunk, protocol.AudioChunk{
		RoomCode:   req.RoomCode,
		ChunkIndex: req.ChunkIndex,
		AudioData:  chunk,
	})
}

func (s *Server) handleUserTalkingState(c *conn, msg protocol.Message) {
	var req protocol.UserTalkingState
	if err := msg.Decode(&req); err != nil {
		return
	}

	r := s.rooms.Get(req.RoomCode)
	if r == nil || r.Member(c.sid) == nil {
		return
	}

	s.broadcastExcept(r, c.sid, protocol.EventUserTalkingUpdate, protocol.UserTalkingUpdate{
		Username:  req.Username,
		IsTalking: req.IsTalking,
	})
}

func (s *Server) handleVoiceData(c *conn, msg protocol.Message) {
	var req protocol.VoiceData
	if err := msg.Decode(&req); err != nil {
		return
	}

	r := s.rooms.Get(req.RoomCode)
	if r == nil || r.Member(c.sid) == nil {
		return
	}

	// Opaque relay; frames are not inspected or reordered here.
	s.broadcastExcept(r, c.sid, protocol.EventVoiceData, protocol.VoiceData{
		RoomCode: req.RoomCode,
		Username: req.Username,
		Data:     req.Data,
	})
}
