package logger

import (
	"fmt"
	"io"
	"sync/atomic"

	gommonlog "github.com/labstack/gommon/log"
)

// EchoLoggerAdapter routes echo's own logger (startup failures, binder and
// recover messages) into a module Logger. Output, prefix and header belong
// to the central logger and are ignored; the level set through SetLevel
// filters on top of the central level.
//
//	e := echo.New()
//	e.Logger = logger.NewEchoLoggerAdapter(GetLogger().Module("echo"))
type EchoLoggerAdapter struct {
	logger Logger
	level  atomic.Uint32
}

// NewEchoLoggerAdapter creates the adapter at gommon's INFO level
func NewEchoLoggerAdapter(log Logger) *EchoLoggerAdapter {
	if log == nil {
		log = NewSlogLogger(nil, LogLevelInfo, nil)
	}
	a := &EchoLoggerAdapter{logger: log}
	a.level.Store(uint32(gommonlog.INFO))
	return a
}

func (a *EchoLoggerAdapter) Output() io.Writer { return io.Discard }
func (a *EchoLoggerAdapter) SetOutput(_ io.Writer) {}
func (a *EchoLoggerAdapter) Prefix() string { return "" }
func (a *EchoLoggerAdapter) SetPrefix(_ string) {}
func (a *EchoLoggerAdapter) SetHeader(_ string) {}

func (a *EchoLoggerAdapter) Level() gommonlog.Lvl {
	return gommonlog.Lvl(a.level.Load())
}

func (a *EchoLoggerAdapter) SetLevel(lvl gommonlog.Lvl) {
	a.level.Store(uint32(lvl))
}

func (a *EchoLoggerAdapter) emit(lvl gommonlog.Lvl, msg string, fields ...Field) {
	if lvl < a.Level() {
		return
	}
	switch lvl {
	case gommonlog.DEBUG:
		a.logger.Debug(msg, fields...)
	case gommonlog.INFO:
		a.logger.Info(msg, fields...)
	case gommonlog.WARN:
		a.logger.Warn(msg, fields...)
	default:
		a.logger.Error(msg, fields...)
	}
}

func (a *EchoLoggerAdapter) Print(i ...any) { a.emit(gommonlog.INFO, fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Printf(format string, args ...any) {
	a.emit(gommonlog.INFO, fmt.Sprintf(format, args...))
}
func (a *EchoLoggerAdapter) Printj(j gommonlog.JSON) { a.emit(gommonlog.INFO, "echo", Any("data", j)) }

func (a *EchoLoggerAdapter) Debug(i ...any) { a.emit(gommonlog.DEBUG, fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Debugf(format string, args ...any) {
	a.emit(gommonlog.DEBUG, fmt.Sprintf(format, args...))
}
func (a *EchoLoggerAdapter) Debugj(j gommonlog.JSON) { a.emit(gommonlog.DEBUG, "echo", Any("data", j)) }

func (a *EchoLoggerAdapter) Info(i ...any) { a.emit(gommonlog.INFO, fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Infof(format string, args ...any) {
	a.emit(gommonlog.INFO, fmt.Sprintf(format, args...))
}
func (a *EchoLoggerAdapter) Infoj(j gommonlog.JSON) { a.emit(gommonlog.INFO, "echo", Any("data", j)) }

func (a *EchoLoggerAdapter) Warn(i ...any) { a.emit(gommonlog.WARN, fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Warnf(format string, args ...any) {
	a.emit(gommonlog.WARN, fmt.Sprintf(format, args...))
}
func (a *EchoLoggerAdapter) Warnj(j gommonlog.JSON) { a.emit(gommonlog.WARN, "echo", Any("data", j)) }

func (a *EchoLoggerAdapter) Error(i ...any) { a.emit(gommonlog.ERROR, fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Errorf(format string, args ...any) {
	a.emit(gommonlog.ERROR, fmt.Sprintf(format, args...))
}
func (a *EchoLoggerAdapter) Errorj(j gommonlog.JSON) { a.emit(gommonlog.ERROR, "echo", Any("data", j)) }

// Fatal and Panic log at ERROR and panic instead of exiting
func (a *EchoLoggerAdapter) Fatal(i ...any) { a.fail(fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Fatalf(format string, args ...any) {
	a.fail(fmt.Sprintf(format, args...))
}
func (a *EchoLoggerAdapter) Fatalj(j gommonlog.JSON) { a.fail(fmt.Sprintf("%v", j)) }

func (a *EchoLoggerAdapter) Panic(i ...any) { a.fail(fmt.Sprint(i...)) }
func (a *EchoLoggerAdapter) Panicf(format string, args ...any) {
	a.fail(fmt.Sprintf(format, args...))
}
func (a *EchoLoggerAdapter) Panicj(j gommonlog.JSON) { a.fail(fmt.Sprintf("%v", j)) }

func (a *EchoLoggerAdapter) fail(msg string) {
	a.logger.Error(msg)
	panic("echo: " + msg)
}
