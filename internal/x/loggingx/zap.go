package loggingx

import (
	"github.com/dogmatiq/dodeca/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Zap returns a logger that writes to a zap logger.
//
// Regular messages are written at the info level, debug messages at the debug
// level.
func Zap(target *zap.Logger) logging.Logger {
	return &zapLogger{
		target.Core(),
		target.WithOptions(zap.AddCallerSkip(1)).Sugar(),
	}
}

type zapLogger struct {
	core   zapcore.Core
	target *zap.SugaredLogger
}

func (l *zapLogger) Log(fmt string, v ...any) {
	l.target.Infof(fmt, v...)
}

func (l *zapLogger) LogString(s string) {
	l.target.Info(s)
}

func (l *zapLogger) Debug(fmt string, v ...any) {
	l.target.Debugf(fmt, v...)
}

func (l *zapLogger) DebugString(s string) {
	l.target.Debug(s)
}

func (l *zapLogger) IsDebug() bool {
	return l.core.Enabled(zapcore.DebugLevel)
}
