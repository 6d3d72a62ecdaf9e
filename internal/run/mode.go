package run

import (
	"log/slog"

	"github.com/cwbudde/gomidaco/internal/history"
)

// HistoryOption is a flag-or-path setting: either unset, enabled with the
// default name, or enabled with an explicit path.
type HistoryOption struct {
	Enabled bool
	Path    string
}

// NoHistory leaves the option unset.
func NoHistory() HistoryOption { return HistoryOption{} }

// DefaultHistory enables the option with the default history name.
func DefaultHistory() HistoryOption { return HistoryOption{Enabled: true} }

// HistoryAt enables the option with an explicit path.
func HistoryAt(path string) HistoryOption { return HistoryOption{Enabled: true, Path: path} }

// HistoryMode says which history files a run reads and writes. It is one of
// Disabled, WriteOnly or ReadWrite.
type HistoryMode interface {
	historyMode()
}

// Disabled runs without reading or writing history.
type Disabled struct{}

// WriteOnly logs every evaluation to Path.
type WriteOnly struct {
	Path string
}

// ReadWrite replays Source and logs to Dest.
type ReadWrite struct {
	Source string
	Dest   string
}

func (Disabled) historyMode()  {}
func (WriteOnly) historyMode() {}
func (ReadWrite) historyMode() {}

// Temp reports whether the log goes to a temporary pair that replaces the
// source when the run succeeds.
func (m ReadWrite) Temp() bool {
	return m.Source == m.Dest || history.SamePair(m.Source, m.Dest)
}

// LogPath is the pair the run actually writes.
func (m ReadWrite) LogPath() string {
	if m.Temp() {
		return history.TempPath(m.Dest)
	}
	return m.Dest
}

// ResolveHistoryMode turns the store and hot-start options into a mode.
// defaultName is used wherever an option is enabled without a path. A hot
// start without a history store is ignored. A source that names the
// destination pair under another spelling is treated as the destination.
func ResolveHistoryMode(store, hot HistoryOption, defaultName string) HistoryMode {
	if !store.Enabled {
		if hot.Enabled {
			slog.Warn("Hot start ignored without a history store")
		}
		return Disabled{}
	}

	dest := store.Path
	if dest == "" {
		dest = defaultName
	}
	if !hot.Enabled {
		return WriteOnly{Path: dest}
	}

	source := hot.Path
	if source == "" || history.SamePair(source, dest) {
		source = dest
	}
	return ReadWrite{Source: source, Dest: dest}
}

func logPath(m HistoryMode) string {
	switch m := m.(type) {
	case WriteOnly:
		return m.Path
	case ReadWrite:
		return m.LogPath()
	}
	return ""
}
