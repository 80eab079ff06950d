package logger

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// traceLevel sits below zap's debug level.
const traceLevel = zapcore.DebugLevel - 1

// CentralLogger owns the output cores and is the root Logger of the process.
// Close it on shutdown to flush and release the rotating file.
type CentralLogger struct {
	Logger
	closers []func() error
}

// NewCentralLogger builds console and file cores from cfg.
// A nil cfg logs info and above to the console only.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	var c LoggingConfig
	if cfg != nil {
		c = *cfg
	}
	applyConfigDefaults(&c)

	var (
		cores   []zapcore.Core
		closers []func() error
	)

	if c.Console.Enabled {
		encoderConfig := createEncoderConfig()
		var encoder zapcore.Encoder
		if c.Console.JSON {
			encoder = zapcore.NewJSONEncoder(encoderConfig)
		} else {
			// timestamps are added by journald/docker
			encoderConfig.TimeKey = ""
			encoder = zapcore.NewConsoleEncoder(encoderConfig)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zap.NewAtomicLevelAt(parseLevel(c.Console.Level))))
	}

	if c.FileOutput.Enabled {
		core, closer, err := createRotatingFileCore(c.FileOutput)
		if err != nil {
			return nil, err
		}
		cores = append(cores, core)
		closers = append(closers, closer)
	}

	var core zapcore.Core
	switch len(cores) {
	case 0:
		core = zapcore.NewNopCore()
	case 1:
		core = cores[0]
	default:
		core = zapcore.NewTee(cores...)
	}

	root := newZapLogger(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)), c.DefaultLevel, c.ModuleLevels)
	return &CentralLogger{Logger: root, closers: closers}, nil
}

// Close flushes buffered entries and closes rotating files.
func (c *CentralLogger) Close() error {
	err := c.Flush()
	for _, closer := range c.closers {
		err = errors.Join(err, closer())
	}
	return err
}

// zapLogger implements Logger on top of a zap.Logger.
type zapLogger struct {
	z            *zap.Logger
	module       string
	level        zapcore.Level
	defaultLevel zapcore.Level
	moduleLevels map[string]zapcore.Level
}

func newZapLogger(z *zap.Logger, defaultLevel string, moduleLevels map[string]string) *zapLogger {
	levels := make(map[string]zapcore.Level, len(moduleLevels))
	for module, lvl := range moduleLevels {
		levels[strings.ToLower(module)] = parseLevel(lvl)
	}
	def := parseLevel(defaultLevel)
	return &zapLogger{z: z, level: def, defaultLevel: def, moduleLevels: levels}
}

// Module returns a child logger; nested names are joined with dots.
func (l *zapLogger) Module(name string) Logger {
	module := name
	if l.module != "" {
		module = l.module + "." + name
	}
	return &zapLogger{
		z:            l.z.Named(name),
		module:       module,
		level:        l.levelFor(module),
		defaultLevel: l.defaultLevel,
		moduleLevels: l.moduleLevels,
	}
}

// levelFor returns the most specific configured level for module.
func (l *zapLogger) levelFor(module string) zapcore.Level {
	key := strings.ToLower(module)
	for {
		if lvl, ok := l.moduleLevels[key]; ok {
			return lvl
		}
		idx := strings.LastIndex(key, ".")
		if idx < 0 {
			return l.defaultLevel
		}
		key = key[:idx]
	}
}

func (l *zapLogger) Trace(msg string, fields ...Field) { l.log(traceLevel, msg, fields) }
func (l *zapLogger) Debug(msg string, fields ...Field) { l.log(zapcore.DebugLevel, msg, fields) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.log(zapcore.InfoLevel, msg, fields) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.log(zapcore.WarnLevel, msg, fields) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.log(zapcore.ErrorLevel, msg, fields) }

// Log logs at an explicit level.
func (l *zapLogger) Log(level LogLevel, msg string, fields ...Field) {
	l.log(parseLevel(string(level)), msg, fields)
}

func (l *zapLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	clone := *l
	clone.z = l.z.With(toZapFields(fields)...)
	return &clone
}

func (l *zapLogger) WithContext(ctx context.Context) Logger {
	if id, ok := TraceIDFromContext(ctx); ok {
		return l.With(String("trace_id", id))
	}
	return l
}

// Flush syncs the cores. Sync errors from terminals are ignored.
func (l *zapLogger) Flush() error {
	err := l.z.Sync()
	if err == nil || errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EBADF) {
		return nil
	}
	return err
}

func (l *zapLogger) log(lvl zapcore.Level, msg string, fields []Field) {
	if lvl < l.level {
		return
	}
	if ce := l.z.Check(lvl, msg); ce != nil {
		ce.Write(toZapFields(fields)...)
	}
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(LogLevelTrace):
		return traceLevel
	case string(LogLevelDebug):
		return zapcore.DebugLevel
	case string(LogLevelWarn), "warning":
		return zapcore.WarnLevel
	case string(LogLevelError):
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func levelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == traceLevel {
		enc.AppendString("TRACE")
		return
	}
	zapcore.CapitalLevelEncoder(l, enc)
}
