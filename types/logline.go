package types

import (
	"fmt"
	"time"
)

// LogSource identifies where a diagnostic line came from.
type LogSource string

const (
	LogSourceStdout LogSource = "stdout"
	LogSourceStderr LogSource = "stderr"
	// LogSourceSystem marks lines produced by the core itself.
	LogSourceSystem LogSource = "system"
)

// Prefix returns the short tag used in the diagnostic pane.
func (s LogSource) Prefix() string {
	switch s {
	case LogSourceStdout:
		return "[OUT]"
	case LogSourceStderr:
		return "[ERR]"
	default:
		return "[SYS]"
	}
}

// IsProcess returns true for lines emitted by the backend process.
func (s LogSource) IsProcess() bool {
	return s == LogSourceStdout || s == LogSourceStderr
}

// LogLine is one entry of the session's append-only diagnostic log.
type LogLine struct {
	// Seq is the 1-based position in the log.
	Seq    uint64    `json:"seq"`
	Source LogSource `json:"source"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

// String renders the line as shown in the diagnostic pane.
func (l LogLine) String() string {
	if l.Source == LogSourceSystem {
		return l.Text
	}
	return fmt.Sprintf("%s %s", l.Source.Prefix(), l.Text)
}
