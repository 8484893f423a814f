// ABOUTME: Bubbletea model for the jam session TUI
// ABOUTME: Renders roster, queue, and transport; keys emit room controls
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/campfire-jams/jams-go/internal/protocol"
)

// Controller is the set of room controls the UI can trigger.
// Satisfied by the client session.
type Controller interface {
	PlaySong(index int) error
	Pause() error
	Resume() error
	Seek(position float64) error
	NextSong() error
	PrevSong() error
	ShuffleQueue() error
	RemoveFromQueue(index int) error
	AddURL(url string) error
	Position() float64
}

// seekStep is how far one arrow press moves the stream, in seconds
const seekStep = 10.0

// participantColors maps color_idx to terminal colors, one per seat palette
var participantColors = []lipgloss.Color{
	"203", // red
	"215", // orange
	"221", // yellow
	"120", // green
	"117", // blue
	"183", // purple
	"218", // pink
}

// Messages posted into the program by the session callbacks.

type RoomMsg struct{ Code string }
type QueueMsg struct{ Queue []protocol.Track }
type PlayersMsg struct{ Players []protocol.Player }
type PlayStateMsg struct {
	IsPlaying  bool
	Paused     bool
	CurrentIdx int
}
type SongMsg struct {
	Song  protocol.Track
	Index int
}
type TalkingMsg struct {
	Username string
	Talking  bool
}
type URLStatusMsg struct {
	Status  string
	Message string
}
type ErrorMsg struct{ Message string }

// Model is the TUI state
type Model struct {
	controller Controller

	roomCode   string
	players    []protocol.Player
	talking    map[string]bool
	queue      []protocol.Track
	currentIdx int
	isPlaying  bool
	paused     bool
	song       protocol.Track
	statusLine string

	selected int // queue cursor

	// Optimistic seek target; the local clock moves only on the server echo
	seekTarget float64
	seekAt     time.Time

	// URL entry mode
	entering bool
	input    string

	width  int
	height int

	quitting bool
}

// NewModel creates the TUI model over a controller
func NewModel(controller Controller) Model {
	return Model{
		controller: controller,
		currentIdx: -1,
		talking:    make(map[string]bool),
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case RoomMsg:
		m.roomCode = msg.Code
		m.statusLine = fmt.Sprintf("Room %s", msg.Code)

	case QueueMsg:
		m.queue = msg.Queue
		if m.selected >= len(m.queue) {
			m.selected = len(m.queue) - 1
		}
		if m.selected < 0 {
			m.selected = 0
		}

	case PlayersMsg:
		m.players = msg.Players

	case PlayStateMsg:
		m.isPlaying = msg.IsPlaying
		m.paused = msg.Paused
		m.currentIdx = msg.CurrentIdx

	case SongMsg:
		m.song = msg.Song
		m.currentIdx = msg.Index
		m.isPlaying = true
		m.paused = false

	case TalkingMsg:
		m.talking[msg.Username] = msg.Talking

	case URLStatusMsg:
		m.statusLine = msg.Message

	case ErrorMsg:
		m.statusLine = "Error: " + msg.Message
	}

	return m, nil
}

// handleKey routes keyboard input, with a separate mode for URL entry
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.entering {
		return m.handleInputKey(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case " ":
		if m.paused {
			m.controller.Resume()
		} else if m.isPlaying {
			m.controller.Pause()
		}

	case "n":
		m.controller.NextSong()

	case "p":
		m.controller.PrevSong()

	case "s":
		m.controller.ShuffleQueue()

	case "left":
		pos := m.seekBase() - seekStep
		if pos < 0 {
			pos = 0
		}
		m.seekTarget, m.seekAt = pos, time.Now()
		m.controller.Seek(pos)

	case "right":
		pos := m.seekBase() + seekStep
		m.seekTarget, m.seekAt = pos, time.Now()
		m.controller.Seek(pos)

	case "up":
		if m.selected > 0 {
			m.selected--
		}

	case "down":
		if m.selected < len(m.queue)-1 {
			m.selected++
		}

	case "enter":
		if len(m.queue) > 0 {
			m.controller.PlaySong(m.selected)
		}

	case "d":
		if len(m.queue) > 0 {
			m.controller.RemoveFromQueue(m.selected)
		}

	case "a":
		m.entering = true
		m.input = ""
	}

	return m, nil
}

// seekBase is the position successive seek presses build on. The session
// debounces emissions, so during a burst the clock has not moved yet and a
// recent press uses the optimistic target instead.
func (m Model) seekBase() float64 {
	if !m.seekAt.IsZero() && time.Since(m.seekAt) < time.Second {
		return m.seekTarget
	}
	return m.controller.Position()
}

// handleInputKey edits the URL entry line
func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		if m.input != "" {
			m.controller.AddURL(m.input)
			m.statusLine = "Submitting URL..."
		}
		m.entering = false
		m.input = ""

	case tea.KeyEsc:
		m.entering = false
		m.input = ""

	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}

	case tea.KeyRunes:
		m.input += string(msg.Runes)

	case tea.KeySpace:
		m.input += " "
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Leaving the jam...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205"))

	var b strings.Builder
	b.WriteString(titleStyle.Render("Campfire Jams"))
	if m.roomCode != "" {
		b.WriteString("  ")
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("250")).
			Render("room " + m.roomCode))
	}
	b.WriteString("\n\n")

	b.WriteString(m.renderPlayers())
	b.WriteString("\n")
	b.WriteString(m.renderTransport())
	b.WriteString("\n")
	b.WriteString(m.renderQueue())
	b.WriteString("\n")

	if m.entering {
		b.WriteString("Add URL: " + m.input + "▌\n")
	} else if m.statusLine != "" {
		b.WriteString(m.statusLine + "\n")
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(
		"space:Pause  n/p:Next/Prev  ←/→:Seek  ↑/↓:Select  enter:Play  a:Add  d:Remove  s:Shuffle  q:Quit"))
	b.WriteString("\n")

	return b.String()
}

// renderPlayers draws the roster with color swatches and talking markers
func (m Model) renderPlayers() string {
	if len(m.players) == 0 {
		return "Nobody here yet\n"
	}

	var b strings.Builder
	for _, p := range m.players {
		swatch := lipgloss.NewStyle().
			Foreground(colorFor(p.ColorIdx)).
			Render("●")

		mic := " "
		if m.talking[p.Username] {
			mic = "🎤"
		}
		b.WriteString(fmt.Sprintf("%s %-6s seat %d %s\n", swatch, p.Username, p.Position, mic))
	}
	return b.String()
}

// renderTransport draws the now-playing line with position
func (m Model) renderTransport() string {
	if !m.isPlaying && m.song.SongID == "" {
		return "Nothing playing\n"
	}

	state := "▶"
	if m.paused {
		state = "⏸"
	}

	pos := m.controller.Position()
	length := m.song.LengthSec
	line := fmt.Sprintf("%s %s — %s  %s / %s",
		state, m.song.DisplayTitle(), m.song.Artist,
		formatTime(pos), formatTime(float64(length)))
	return line + "\n"
}

// renderQueue draws the queue with the playing track and cursor marked
func (m Model) renderQueue() string {
	if len(m.queue) == 0 {
		return "Queue is empty. Press a to add a track.\n"
	}

	playingStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("120"))

	var b strings.Builder
	for i, track := range m.queue {
		cursor := "  "
		if i == m.selected {
			cursor = "> "
		}

		line := fmt.Sprintf("%s%2d. %s — %s", cursor, i+1, track.DisplayTitle(), track.Artist)
		if i == m.currentIdx {
			line = playingStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// colorFor maps a color index into the palette, wrapping out-of-range values
func colorFor(colorIdx int) lipgloss.Color {
	if colorIdx < 0 {
		colorIdx = 0
	}
	return participantColors[colorIdx%len(participantColors)]
}

// formatTime renders seconds as m:ss
func formatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
