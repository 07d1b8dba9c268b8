package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// impl writes every entry to its appenders itself rather than through a zap
// core, so sublogger levels can change without rebuilding anything.
type impl struct {
	name  string
	level AtomicLevel
	inUTC bool

	appenders []Appender
}

func newImpl(name string, level Level, inUTC bool, appenders ...Appender) *impl {
	return &impl{
		name:      name,
		level:     NewAtomicLevelAt(level),
		inUTC:     inUTC,
		appenders: appenders,
	}
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

// Sublogger shares appenders with the parent but has its own level.
func (imp *impl) Sublogger(subname string) Logger {
	name := subname
	if imp.name != "" {
		name = imp.name + "." + subname
	}
	return newImpl(name, imp.level.Get(), imp.inUTC, imp.appenders...)
}

func (imp *impl) Sync() error {
	var err error
	for _, appender := range imp.appenders {
		err = multierr.Append(err, appender.Sync())
	}
	return err
}

// Desugar hands out a plain zap logger for libraries that want one. It logs to
// stdout at this logger's level and tees into appenders that are zap cores.
func (imp *impl) Desugar() *zap.Logger {
	config := NewZapLoggerConfig()
	config.Level = zap.NewAtomicLevelAt(imp.level.Get().AsZap())
	logger := zap.Must(config.Build()).Named(imp.name)
	for _, appender := range imp.appenders {
		if core, ok := appender.(zapcore.Core); ok {
			logger = logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
				return zapcore.NewTee(c, core)
			}))
		}
	}
	return logger
}

// The print, printf and printw helpers sit at the same stack depth so emit can
// find the caller with a fixed skip.

func (imp *impl) print(level Level, force bool, args []interface{}) {
	if force || level >= imp.level.Get() {
		imp.emit(level, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) printf(level Level, force bool, template string, args []interface{}) {
	if force || level >= imp.level.Get() {
		imp.emit(level, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) printw(level Level, force bool, msg string, keysAndValues []interface{}) {
	if force || level >= imp.level.Get() {
		imp.emit(level, msg, toFields(keysAndValues))
	}
}

func (imp *impl) emit(level Level, msg string, fields []zapcore.Field) {
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: imp.name,
		Message:    msg,
		Caller:     callSite(),
	}
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}
	for _, appender := range imp.appenders {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// toFields pairs up keys and values. A dangling key is kept with an error value.
func toFields(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.Any(key, errors.New("unpaired log key")))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

// callSite walks past callSite, emit, the print helper and the public method.
func callSite() zapcore.EntryCaller {
	const depth = 4
	pc, file, line, ok := runtime.Caller(depth)
	if !ok {
		return zapcore.EntryCaller{}
	}
	caller := zapcore.EntryCaller{Defined: true, PC: pc, File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		caller.Function = fn.Name()
	}
	return caller
}

func (imp *impl) Debug(args ...interface{}) { imp.print(DEBUG, false, args) }

func (imp *impl) Debugf(template string, args ...interface{}) {
	imp.printf(DEBUG, false, template, args)
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.printw(DEBUG, false, msg, keysAndValues)
}

// CDebugw logs at debug level when the logger allows it or ctx carries debug mode.
func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	imp.printw(DEBUG, IsDebugMode(ctx), msg, keysAndValues)
}

func (imp *impl) Info(args ...interface{}) { imp.print(INFO, false, args) }

func (imp *impl) Infof(template string, args ...interface{}) {
	imp.printf(INFO, false, template, args)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.printw(INFO, false, msg, keysAndValues)
}

func (imp *impl) Warn(args ...interface{}) { imp.print(WARN, false, args) }

func (imp *impl) Warnf(template string, args ...interface{}) {
	imp.printf(WARN, false, template, args)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.printw(WARN, false, msg, keysAndValues)
}

func (imp *impl) Error(args ...interface{}) { imp.print(ERROR, false, args) }

func (imp *impl) Errorf(template string, args ...interface{}) {
	imp.printf(ERROR, false, template, args)
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.printw(ERROR, false, msg, keysAndValues)
}

// Fatal variants always log at error level, then exit.

func (imp *impl) Fatal(args ...interface{}) {
	imp.print(ERROR, true, args)
	os.Exit(1)
}

func (imp *impl) Fatalf(template string, args ...interface{}) {
	imp.printf(ERROR, true, template, args)
	os.Exit(1)
}

func (imp *impl) Fatalw(msg string, keysAndValues ...interface{}) {
	imp.printw(ERROR, true, msg, keysAndValues)
	os.Exit(1)
}
