package logbook

import (
	"github.com/pithecene-io/nimbus/log"
	"github.com/pithecene-io/nimbus/types"
)

// LoggerSink mirrors lines into the structured logger.
// Backend stderr is logged at warn; everything else at info.
type LoggerSink struct {
	Logger *log.Logger
}

// Append implements Sink.
func (s *LoggerSink) Append(line types.LogLine) {
	if s == nil || s.Logger == nil {
		return
	}
	fields := map[string]any{
		"seq":    line.Seq,
		"source": string(line.Source),
		"text":   line.Text,
	}
	if !line.Source.IsProcess() {
		s.Logger.Info("session log", fields)
		return
	}
	if line.Source == types.LogSourceStderr {
		s.Logger.Warn("backend output", fields)
		return
	}
	s.Logger.Info("backend output", fields)
}

// FuncSink adapts a function to Sink.
type FuncSink func(types.LogLine)

// Append implements Sink.
func (f FuncSink) Append(line types.LogLine) { f(line) }
