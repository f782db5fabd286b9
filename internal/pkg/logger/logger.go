package logger

import (
	"context"
	"io"
	"os"
	"time"

	appCtx "github.com/baechuer/tablebook/internal/pkg/context"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

var Logger = zerolog.Nop()

func Init() {
	InitWithWriter(os.Stdout)
}

func InitWithWriter(w io.Writer) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	format := os.Getenv("LOG_FORMAT") // "json" or "console"
	if format == "" {
		format = "console"
	}

	if format == "json" {
		Logger = zerolog.New(w).With().Timestamp().Logger().Level(level)
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger().Level(level)
	}

	zlog.Logger = Logger
}

// WithCtx returns the global logger tagged with the request and user ids, if any.
func WithCtx(ctx context.Context) *zerolog.Logger {
	rid := appCtx.GetRequestID(ctx)
	uid := appCtx.GetUserID(ctx)
	if rid == "" && uid == "" {
		return &Logger
	}
	c := Logger.With()
	if rid != "" {
		c = c.Str("request_id", rid)
	}
	if uid != "" {
		c = c.Str("user_id", uid)
	}
	l := c.Logger()
	return &l
}

// Component returns a sub-logger for one subsystem.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}
