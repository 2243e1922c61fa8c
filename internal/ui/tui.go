// ABOUTME: TUI initialization and the command channel back to the player loop
// ABOUTME: Wraps the bubbletea program for the demo player
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// CommandKind names a player action requested from the keyboard.
type CommandKind int

const (
	CmdQuit CommandKind = iota
	CmdTogglePlay
	CmdNext
	CmdPrev
	CmdSeek    // Value: position in ms
	CmdVolume  // Value: percent
	CmdShuffle // Value: 1 on, 0 off
	CmdRepeat  // Value: 1 on, 0 off
)

// Command is applied by the goroutine that pumps the engine.
type Command struct {
	Kind  CommandKind
	Value int64
}

// Controls carries commands from the TUI to the player loop.
type Controls struct {
	Commands chan Command
}

// NewControls creates a buffered command channel.
func NewControls() *Controls {
	return &Controls{Commands: make(chan Command, 16)}
}

// NewModel creates a new TUI model
func NewModel(controls *Controls) Model {
	return Model{
		connection: "logged out",
		state:      "stopped",
		volume:     100,
		controls:   controls,
	}
}

// Run creates the program; the caller starts it with Run on its own goroutine.
func Run(controls *Controls) *tea.Program {
	return tea.NewProgram(NewModel(controls), tea.WithAltScreen())
}
