// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package log

import (
	"io"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// DefaultLogger writes info and above as JSON to os.Stdout.
	DefaultLogger Logger = NewZap(InfoLevel, os.Stdout)

	// DebugLogger writes every entry as JSON to os.Stdout.
	DebugLogger Logger = NewZap(DebugLevel, os.Stdout)

	// DiscardLogger drops every entry. Handy in tests.
	DiscardLogger Logger = discardLogger{}
)

const (
	fileBufferSize    = 256 * 1024
	fileFlushInterval = 30 * time.Second
	timeLayout        = "2006-01-02T15:04:05.000000Z0700"
)

// Zap implements Logger on top of zap.
//
// Entries written to regular files go through a buffered syncer so the
// matcher hot path does not pay a syscall per line; entries at error level
// and above bypass the buffer. Call Flush on shutdown.
type Zap struct {
	logger   *zap.Logger
	sugar    *zap.SugaredLogger
	files    []*os.File
	buffered *zapcore.BufferedWriteSyncer
}

var _ Logger = (*Zap)(nil)

// NewZap creates a JSON logger writing to the given writers. os.Stdout is
// used when no writer is given.
func NewZap(level Level, writers ...io.Writer) *Zap {
	if len(writers) == 0 {
		writers = []io.Writer{os.Stdout}
	}

	var (
		direct []zapcore.WriteSyncer
		files  []zapcore.WriteSyncer
		owned  []*os.File
	)

	for _, w := range writers {
		if f, ok := w.(*os.File); ok && f != os.Stdout && f != os.Stderr {
			files = append(files, zapcore.AddSync(f))
			owned = append(owned, f)
			continue
		}
		direct = append(direct, zapcore.AddSync(w))
	}

	enabler := toZapLevel(level)
	encoder := zapcore.NewJSONEncoder(encoderConfig())
	cores := make([]zapcore.Core, 0, 3)
	if len(direct) > 0 {
		cores = append(cores, zapcore.NewCore(encoder, zap.CombineWriteSyncers(direct...), enabler))
	}

	var buffered *zapcore.BufferedWriteSyncer
	if len(files) > 0 {
		combined := zap.CombineWriteSyncers(files...)
		buffered = &zapcore.BufferedWriteSyncer{
			WS:            combined,
			Size:          fileBufferSize,
			FlushInterval: fileFlushInterval,
		}

		low := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return enabler.Enabled(l) && l < zapcore.ErrorLevel })
		high := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return enabler.Enabled(l) && l >= zapcore.ErrorLevel })
		cores = append(cores,
			zapcore.NewCore(encoder.Clone(), buffered, low),
			zapcore.NewCore(encoder.Clone(), combined, high))
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel))

	return &Zap{
		logger:   logger,
		sugar:    logger.Sugar(),
		files:    owned,
		buffered: buffered,
	}
}

// NewZapFile creates a logger appending to the file at path.
func NewZapFile(level Level, path string) (*Zap, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return NewZap(level, file), nil
}

// Debug starts a message with debug level
func (z *Zap) Debug(v ...any) { z.sugar.Debug(v...) }

// Debugf starts a message with debug level
func (z *Zap) Debugf(format string, v ...any) { z.sugar.Debugf(format, v...) }

// Info starts a message with info level
func (z *Zap) Info(v ...any) { z.sugar.Info(v...) }

// Infof starts a message with info level
func (z *Zap) Infof(format string, v ...any) { z.sugar.Infof(format, v...) }

// Warn starts a message with warn level
func (z *Zap) Warn(v ...any) { z.sugar.Warn(v...) }

// Warnf starts a message with warn level
func (z *Zap) Warnf(format string, v ...any) { z.sugar.Warnf(format, v...) }

// Error starts a message with error level
func (z *Zap) Error(v ...any) { z.sugar.Error(v...) }

// Errorf starts a message with error level
func (z *Zap) Errorf(format string, v ...any) { z.sugar.Errorf(format, v...) }

// Fatal logs and calls os.Exit(1)
func (z *Zap) Fatal(v ...any) { z.sugar.Fatal(v...) }

// Fatalf logs and calls os.Exit(1)
func (z *Zap) Fatalf(format string, v ...any) { z.sugar.Fatalf(format, v...) }

// Enabled reports whether the given level is enabled.
func (z *Zap) Enabled(level Level) bool {
	return z.logger.Core().Enabled(toZapLevel(level))
}

// With returns a child logger carrying the given key/value pairs.
// Non-string keys are skipped and a trailing orphan value is logged under "_".
func (z *Zap) With(keyValues ...any) Logger {
	fields := make([]zap.Field, 0, (len(keyValues)+1)/2)
	for i := 0; i < len(keyValues); i += 2 {
		if i+1 == len(keyValues) {
			fields = append(fields, toZapField("_", keyValues[i]))
			break
		}
		key, ok := keyValues[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, toZapField(key, keyValues[i+1]))
	}

	if len(fields) == 0 {
		return z
	}

	child := z.logger.With(fields...)
	return &Zap{
		logger:   child,
		sugar:    child.Sugar(),
		files:    z.files,
		buffered: z.buffered,
	}
}

// LogLevel returns the log level that is used
func (z *Zap) LogLevel() Level {
	switch z.logger.Level() {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.InfoLevel:
		return InfoLevel
	case zapcore.WarnLevel:
		return WarningLevel
	case zapcore.ErrorLevel:
		return ErrorLevel
	case zapcore.PanicLevel:
		return PanicLevel
	case zapcore.FatalLevel:
		return FatalLevel
	default:
		return InvalidLevel
	}
}

// Flush drains buffered file output and syncs the files.
func (z *Zap) Flush() error {
	var err error
	if z.buffered != nil {
		err = multierr.Append(err, z.buffered.Sync())
	}
	for _, file := range z.files {
		err = multierr.Append(err, file.Sync())
	}
	return err
}

func toZapField(key string, val any) zap.Field {
	switch v := val.(type) {
	case string:
		return zap.String(key, v)
	case int:
		return zap.Int(key, v)
	case int64:
		return zap.Int64(key, v)
	case uint64:
		return zap.Uint64(key, v)
	case bool:
		return zap.Bool(key, v)
	case float64:
		return zap.Float64(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case error:
		return zap.NamedError(key, v)
	default:
		return zap.Any(key, val)
	}
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case InfoLevel:
		return zapcore.InfoLevel
	case WarningLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case PanicLevel:
		return zapcore.PanicLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.DebugLevel
	}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.LowercaseLevelEncoder,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format(timeLayout))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
