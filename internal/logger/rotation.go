// rotation.go
package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// createRotatingFileCore creates a zapcore.Core that writes JSON to a rotating file.
// The returned closer stops lumberjack's background mill goroutine.
func createRotatingFileCore(fo *FileOutput) (zapcore.Core, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(fo.Path), 0o755); err != nil {
		return nil, nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   fo.Path,
		MaxSize:    fo.MaxSize,
		MaxBackups: fo.MaxRotatedFiles,
		MaxAge:     fo.MaxAge,
		Compress:   fo.Compress,
	}

	encoderConfig := createEncoderConfig()
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zap.NewAtomicLevelAt(parseLevel(fo.Level)),
	)
	return core, rotator.Close, nil
}

func createEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "module",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    levelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
