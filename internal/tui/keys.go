package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up, Down, Left, Right key.Binding
	ZoomIn, ZoomOut       key.Binding
	Inspect, Boxes        key.Binding
	Close, Help, Quit     key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:      key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "pan north")),
		Down:    key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "pan south")),
		Left:    key.NewBinding(key.WithKeys("left"), key.WithHelp("←", "pan west")),
		Right:   key.NewBinding(key.WithKeys("right"), key.WithHelp("→", "pan east")),
		ZoomIn:  key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "zoom in")),
		ZoomOut: key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "zoom out")),
		Inspect: key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "address")),
		Boxes:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "debug boxes")),
		Close:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close")),
		Help:    key.NewBinding(key.WithKeys("h", "?"), key.WithHelp("h", "help")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.ZoomIn, k.ZoomOut, k.Inspect, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Left, k.Right},
		{k.ZoomIn, k.ZoomOut},
		{k.Inspect, k.Boxes, k.Close},
		{k.Help, k.Quit},
	}
}
