// Package log is the structured JSON logger shared by every nimbus
// component. Entries carry session_id and version so lines from several
// sessions writing to one file can be told apart.
package log

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/nimbus/types"
)

// Logger writes one JSON object per entry. Call-site fields are nested
// under "fields"; session context sits at the top level.
type Logger struct {
	zap *zap.Logger
}

// NewLoggerWithWriter returns a logger writing entries at or above level
// to w. meta may be nil for logs emitted before a session exists.
func NewLoggerWithWriter(meta *types.SessionMeta, w io.Writer, level zapcore.Level) *Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		NameKey:     "component",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeName:  zapcore.FullNameEncoder,
	})
	z := zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level))

	ctx := []zap.Field{zap.String("version", types.Version)}
	if meta != nil {
		ctx = append(ctx, zap.String("session_id", meta.SessionID))
	}
	return &Logger{zap: z.With(ctx...)}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(s string) (zapcore.Level, error) {
	return zapcore.ParseLevel(s)
}

// Named tags entries with a component name. Nested names are dot-joined
// ("session.supervisor").
func (l *Logger) Named(component string) *Logger {
	return &Logger{zap: l.zap.Named(component)}
}

func (l *Logger) log(level zapcore.Level, msg string, fields map[string]any) {
	if ce := l.zap.Check(level, msg); ce != nil {
		if len(fields) == 0 {
			ce.Write()
			return
		}
		ce.Write(zap.Any("fields", fields))
	}
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.log(zapcore.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.log(zapcore.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.log(zapcore.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.log(zapcore.ErrorLevel, msg, fields) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}
