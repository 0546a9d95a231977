package log

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var rootLogger *zap.Logger
var defaultlogger *zap.Logger

type contextKey int

const (
	contextKeyFields contextKey = iota
)

func init() {
	Structured()
}

func setLogger(l *zap.Logger) {
	defaultlogger = l
}
func resetLogger() {
	defaultlogger = rootLogger
}

// levelFromEnv reads LOGLEVEL, falling back to debug when unset or invalid
func levelFromEnv() zap.AtomicLevel {
	lvl := zap.NewAtomicLevelAt(zap.DebugLevel)
	if env := os.Getenv("LOGLEVEL"); env != "" {
		if err := lvl.UnmarshalText([]byte(env)); err != nil {
			return zap.NewAtomicLevelAt(zap.DebugLevel)
		}
	}
	return lvl
}

func build(cfg zap.Config, enc zapcore.EncoderConfig) {
	enc.LevelKey = "severity"
	enc.TimeKey = "timestamp"
	enc.StacktraceKey = ""
	enc.MessageKey = "message"
	cfg.EncoderConfig = enc
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	cfg.Level = levelFromEnv()
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	rootLogger = l
	defaultlogger = l
}

// Structured sets output to be JSON encoded
func Structured() {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	build(zap.NewProductionConfig(), enc)
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("15:04:05.000"))
}

// Console sets output to be human-readable (used by the command line)
func Console() {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = timeEncoder
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	build(zap.NewDevelopmentConfig(), enc)
}

// Sync flushes the root logger
func Sync() {
	_ = rootLogger.Sync()
}

// Logger returns a logger that will print fields previously added to the context
func Logger(ctx context.Context) *zap.Logger {
	if flds, ok := ctx.Value(contextKeyFields).([]zap.Field); ok {
		return defaultlogger.With(flds...)
	}
	return defaultlogger
}

// With adds a key=value field to the returned context
func With(ctx context.Context, key string, value interface{}) context.Context {
	return WithFields(ctx, zap.Any(key, value))
}

// WithStage tags the context with the name of the fetch stage being run.
// Nested stages are joined with '/'.
func WithStage(ctx context.Context, name string) context.Context {
	if flds, ok := ctx.Value(contextKeyFields).([]zap.Field); ok {
		for i := len(flds) - 1; i >= 0; i-- {
			if flds[i].Key == "stage" {
				name = flds[i].String + "/" + name
				break
			}
		}
	}
	return WithFields(ctx, zap.String("stage", name))
}

// CopyContext returns a context derived from dst that contains the eventual logging
// keys that are contained in ctx
func CopyContext(ctx context.Context, dst context.Context) context.Context {
	cflds, ok := ctx.Value(contextKeyFields).([]zap.Field)
	if !ok {
		return dst
	}
	flds := append([]zap.Field{}, cflds...)
	if dflds, ok := dst.Value(contextKeyFields).([]zap.Field); ok {
		flds = append(flds, dflds...)
	}
	return context.WithValue(dst, contextKeyFields, flds)
}

// WithFields adds fields to the returned context
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	var flds []zap.Field
	if cflds, ok := ctx.Value(contextKeyFields).([]zap.Field); ok {
		flds = append(flds, cflds...)
	}
	flds = append(flds, fields...)
	return context.WithValue(ctx, contextKeyFields, flds)
}

// Print logs at Info level
func Print(v ...interface{}) {
	defaultlogger.Info(fmt.Sprint(v...))
}

// Printf logs at Info level
func Printf(format string, v ...interface{}) {
	defaultlogger.Sugar().Infof(format, v...)
}

func Fatal(v ...interface{}) {
	defaultlogger.Fatal(fmt.Sprint(v...))
}
func Fatalf(format string, v ...interface{}) {
	defaultlogger.Sugar().Fatalf(format, v...)
}
