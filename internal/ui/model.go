// ABOUTME: Bubbletea model for the demo player TUI
// ABOUTME: Renders engine snapshots and turns keys into player commands
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Model represents the TUI state
type Model struct {
	// Session
	connection string
	user       string
	device     string

	// Context
	contextTitle string
	index        int
	tracks       int

	// Track
	title      string
	artist     string
	album      string
	artwork    string
	positionMs int64
	durationMs int64
	bitrate    int

	// Playback
	state   string
	volume  int // percent
	shuffle bool
	repeat  bool
	active  bool

	// Cache
	cacheUsed   int64
	cacheBudget int64

	lastError string
	showDebug bool

	controls *Controls

	width  int
	height int
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
	case StatusMsg:
		m.applyStatus(msg)
	case ErrorMsg:
		m.lastError = msg.Err.Error()
	case ArtworkMsg:
		m.artwork = msg.Path
	}
	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderTrack())
	b.WriteString(m.renderControls())
	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	status := m.connection
	if m.user != "" {
		status = fmt.Sprintf("%s as %s", m.connection, m.user)
	}
	device := m.device
	if m.active {
		device += " (active)"
	}
	return fmt.Sprintf(`┌─ Embedded Player ────────────────────────────────────┐
│ Session: %-44s │
│ Device:  %-44s │
├──────────────────────────────────────────────────────┤
`, truncate(status, 44), truncate(device, 44))
}

func (m Model) renderTrack() string {
	if m.title == "" {
		return "│ Nothing playing                                      │\n"
	}
	var b strings.Builder
	if m.contextTitle != "" {
		ctx := fmt.Sprintf("%s (%d/%d)", m.contextTitle, m.index+1, m.tracks)
		fmt.Fprintf(&b, "│ Context: %-44s │\n", truncate(ctx, 44))
	}
	fmt.Fprintf(&b, "│   Track:  %-42s │\n", truncate(m.title, 42))
	fmt.Fprintf(&b, "│   Artist: %-42s │\n", truncate(m.artist, 42))
	fmt.Fprintf(&b, "│   Album:  %-42s │\n", truncate(m.album, 42))
	if m.artwork != "" {
		fmt.Fprintf(&b, "│   Art:    %-42s │\n", truncate(m.artwork, 42))
	}
	progress := fmt.Sprintf("[%s] %s / %s",
		renderBar(int(m.positionMs), int(m.durationMs), 20),
		formatMs(m.positionMs), formatMs(m.durationMs))
	fmt.Fprintf(&b, "│   %-50s │\n", progress)
	return b.String()
}

func (m Model) renderControls() string {
	flags := m.state
	if m.shuffle {
		flags += " shuffle"
	}
	if m.repeat {
		flags += " repeat"
	}
	if m.bitrate > 0 {
		flags += fmt.Sprintf(" %dkbps", m.bitrate)
	}
	return fmt.Sprintf("│                                                      │\n"+
		"│ Volume: [%s] %3d%% %-23s │\n"+
		"│ State:  %-44s │\n",
		renderBar(m.volume, 100, 10), m.volume, "", truncate(flags, 44))
}

func (m Model) renderDebug() string {
	cache := fmt.Sprintf("%d KiB used", m.cacheUsed/1024)
	if m.cacheBudget > 0 {
		cache += fmt.Sprintf(" of %d KiB", m.cacheBudget/1024)
	}
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Cache:  %-44s │
│ Error:  %-44s │
`, truncate(cache, 44), truncate(m.lastError, 44))
}

func (m Model) renderHelp() string {
	return `│ space:Play/Pause  n/p:Next/Prev  ←/→:Seek  ↑/↓:Vol  │
│ s:Shuffle  r:Repeat  d:Debug  q:Quit                 │
└──────────────────────────────────────────────────────┘
`
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.send(Command{Kind: CmdQuit})
		return m, tea.Quit
	case " ":
		m.send(Command{Kind: CmdTogglePlay})
	case "n":
		m.send(Command{Kind: CmdNext})
	case "p":
		m.send(Command{Kind: CmdPrev})
	case "left":
		m.send(Command{Kind: CmdSeek, Value: max(0, m.positionMs-seekStep.Milliseconds())})
	case "right":
		m.send(Command{Kind: CmdSeek, Value: m.positionMs + seekStep.Milliseconds()})
	case "up":
		m.volume = min(100, m.volume+5)
		m.send(Command{Kind: CmdVolume, Value: int64(m.volume)})
	case "down":
		m.volume = max(0, m.volume-5)
		m.send(Command{Kind: CmdVolume, Value: int64(m.volume)})
	case "s":
		m.shuffle = !m.shuffle
		m.send(Command{Kind: CmdShuffle, Value: boolValue(m.shuffle)})
	case "r":
		m.repeat = !m.repeat
		m.send(Command{Kind: CmdRepeat, Value: boolValue(m.repeat)})
	case "d":
		m.showDebug = !m.showDebug
	}
	return m, nil
}

// send never blocks the UI; a full queue drops the command.
func (m Model) send(cmd Command) {
	if m.controls == nil {
		return
	}
	select {
	case m.controls.Commands <- cmd:
	default:
	}
}

func (m *Model) applyStatus(msg StatusMsg) {
	m.connection = msg.Connection
	m.user = msg.User
	m.device = msg.Device
	m.contextTitle = msg.ContextTitle
	m.index = msg.Index
	m.tracks = msg.Tracks
	if msg.Title != m.title {
		m.artwork = ""
	}
	m.title = msg.Title
	m.artist = msg.Artist
	m.album = msg.Album
	m.positionMs = msg.PositionMs
	m.durationMs = msg.DurationMs
	m.bitrate = msg.Bitrate
	m.state = msg.State
	m.volume = msg.Volume
	m.shuffle = msg.Shuffle
	m.repeat = msg.Repeat
	m.active = msg.Active
	m.cacheUsed = msg.CacheUsed
	m.cacheBudget = msg.CacheBudget
}

// StatusMsg is a full snapshot of the engine taken on the pump goroutine.
type StatusMsg struct {
	Connection string
	User       string
	Device     string

	ContextTitle string
	Index        int
	Tracks       int

	Title      string
	Artist     string
	Album      string
	PositionMs int64
	DurationMs int64
	Bitrate    int

	State   string
	Volume  int
	Shuffle bool
	Repeat  bool
	Active  bool

	CacheUsed   int64
	CacheBudget int64
}

// ErrorMsg shows the most recent engine error.
type ErrorMsg struct {
	Err error
}

// ArtworkMsg carries the local path of the current cover art.
type ArtworkMsg struct {
	Path string
}

const seekStep = 10 * time.Second

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func renderBar(value, total, width int) string {
	filled := 0
	if total > 0 {
		filled = max(0, min(width, (value*width)/total))
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len([]rune(s)) <= length {
		return s
	}
	return string([]rune(s)[:length-3]) + "..."
}

func formatMs(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
