package cabinet

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger receives structured messages with alternating key/value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger. A nil logger yields a no-op Logger.
func NewZapLogger(logger *zap.Logger) Logger {
	if logger == nil {
		return nopLogger{}
	}
	return &zapLogger{sugar: logger.Sugar()}
}

// NewSimpleLogger returns a human readable console logger at debug level.
func NewSimpleLogger() Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nopLogger{}
	}
	return &zapLogger{sugar: logger.Sugar()}
}

// NewLevelLogger builds a production JSON logger at the named level
// ("debug", "info", "warn", "error").
func NewLevelLogger(level string) (Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: logger.Sugar()}, nil
}

func (l *zapLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *zapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *zapLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *zapLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}
