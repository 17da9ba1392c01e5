package logger

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ log.Logger = (*zapLogger)(nil)

// zapLogger 用zap实现kratos日志接口
type zapLogger struct {
	log *zap.Logger
}

// New 创建zap支撑的kratos Logger
func New(level, format string) (log.Logger, func(), error) {
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	lv, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lv = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = lv

	zl, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = zl.Sync()
	}
	return &zapLogger{log: zl}, cleanup, nil
}

// Log 实现kratos log.Logger
func (l *zapLogger) Log(level log.Level, keyvals ...interface{}) error {
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "")
	}

	var msg string
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if key == log.DefaultMessageKey {
			msg = fmt.Sprint(keyvals[i+1])
			continue
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}

	switch level {
	case log.LevelDebug:
		l.log.Debug(msg, fields...)
	case log.LevelInfo:
		l.log.Info(msg, fields...)
	case log.LevelWarn:
		l.log.Warn(msg, fields...)
	case log.LevelError:
		l.log.Error(msg, fields...)
	case log.LevelFatal:
		l.log.Fatal(msg, fields...)
	}
	return nil
}
