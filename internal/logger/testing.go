// testing.go
package logger

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewWriterLogger returns a Logger writing JSON lines to writer at the given level.
// Tests use it to intercept and assert on log output.
func NewWriterLogger(writer io.Writer, level LogLevel) Logger {
	encoderConfig := createEncoderConfig()
	encoderConfig.TimeKey = ""
	encoderConfig.CallerKey = ""

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(writer),
		zap.NewAtomicLevelAt(traceLevel),
	)
	return newZapLogger(zap.New(core, zap.AddCallerSkip(2)), string(level), nil)
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return newZapLogger(zap.NewNop(), string(LogLevelError), nil)
}
