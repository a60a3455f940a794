package logx

import (
	"os"

	"github.com/oracle-engine/server/internal/core"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var DefaultLoggerOpts = &LoggerOpts{
	Environment: core.Development,
}

type LoggerOpts struct {
	Environment core.Environment
	// Level overrides the environment default when non-empty (e.g. "warn").
	Level string
}

func safe(opts ...LoggerOpts) *LoggerOpts {
	if len(opts) == 0 {
		return DefaultLoggerOpts
	}
	return &opts[0]
}

func Init(opts ...LoggerOpts) {
	o := safe(opts...)

	level := o.Environment.DefaultLogLevel()
	if o.Level != "" {
		if parsed, err := zerolog.ParseLevel(o.Level); err == nil {
			level = parsed
		}
	}

	if o.Environment.IsProduction() {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
		return
	}
	console := zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
	})
	log.Logger = zerolog.New(console).With().Timestamp().Caller().Logger().Level(level)
}

func Trace() *zerolog.Event {
	return log.Trace()
}

func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}
