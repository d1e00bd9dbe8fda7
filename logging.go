package redsocks

import (
	"fmt"

	"github.com/impostorkeanu/redsocks-go/netutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps *zap.Logger to expose exactly the severities the core
// requires (spec §1, "a way to emit log records at severities {debug,
// info, notice, warning, error}"). zapcore.Level has no native Notice
// slot between Info and Warn, so Notice is emitted as Info carrying a
// "severity":"notice" field (see DESIGN.md Open Question decisions).
type Logger struct {
	z      *zap.Logger
	prefix string
}

// NewLogger instantiates a Logger wrapping a zap.Logger built the way
// the teacher repo's NewLogger builds one: a zap.Config with a JSON
// encoder, level parsed from a string, and configurable output paths.
//
// level is one of: debug, info, warn, error, dpanic, panic, fatal.
// outputPaths/errOutputPaths are file paths or the special values
// "stdout"/"stderr"; nil defaults to stdout/stderr respectively.
func NewLogger(level string, outputPaths, errOutputPaths []string) (*Logger, error) {
	if outputPaths == nil {
		outputPaths = []string{"stdout"}
	}
	if errOutputPaths == nil {
		errOutputPaths = []string{"stderr"}
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("error parsing log level: %w", err)
	}

	zapCfg := zap.Config{
		Level:             lvl,
		Development:       false,
		DisableCaller:     false,
		DisableStacktrace: true,
		Encoding:          "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:  "message",
			LevelKey:    "level",
			TimeKey:     "time",
			EncodeLevel: zapcore.LowercaseLevelEncoder,
			EncodeTime:  zapcore.ISO8601TimeEncoder,
		},
		OutputPaths:      outputPaths,
		ErrorOutputPaths: errOutputPaths,
	}

	z, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &Logger{z: z}, nil
}

// NewLoggerFromZap wraps an already-constructed zap.Logger, used by
// cmd/redsocks when a syslog sink is configured (see DESIGN.md).
func NewLoggerFromZap(z *zap.Logger) *Logger {
	return &Logger{z: z}
}

func (l *Logger) Debug(msg string, fields ...zap.Field)   { l.z.Debug(l.fmt(msg), fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)    { l.z.Info(l.fmt(msg), fields...) }
func (l *Logger) Warning(msg string, fields ...zap.Field) { l.z.Warn(l.fmt(msg), fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field)   { l.z.Error(l.fmt(msg), fields...) }

// Notice emits at Info level tagged with severity=notice (see type doc).
func (l *Logger) Notice(msg string, fields ...zap.Field) {
	l.z.Info(l.fmt(msg), append(fields, zap.String("severity", "notice"))...)
}

func (l *Logger) Sync() error { return l.z.Sync() }

// Z returns the underlying *zap.Logger, for collaborators (such as
// dnstc.Serve) that take one directly rather than a Logger.
func (l *Logger) Z() *zap.Logger { return l.z }

func (l *Logger) fmt(msg string) string {
	if l.prefix == "" {
		return msg
	}
	return l.prefix + " " + msg
}

// ClientScope returns a copy of l that prefixes every message with
// "[client_ip:port -> dest_ip:port]" (spec §6, Log format).
func (l *Logger) ClientScope(client, dest netutil.Addr) *Logger {
	return &Logger{z: l.z, prefix: netutil.LogPrefix(client, dest)}
}
