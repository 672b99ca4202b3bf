package logx

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ConsoleConsumer renders events through zerolog, either as JSON or with the
// human-readable console writer.
type ConsoleConsumer struct {
	log zerolog.Logger
}

// NewConsoleConsumer creates a consumer writing to w. When pretty is true the
// zerolog console writer is used; otherwise output is JSON lines.
func NewConsoleConsumer(w io.Writer, pretty bool) *ConsoleConsumer {
	if w == nil {
		w = os.Stdout
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return &ConsoleConsumer{
		log: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// Consume implements Consumer.
func (c *ConsoleConsumer) Consume(e *Event) {
	ev := c.log.WithLevel(zerologLevel(e.Level))
	if e.Logger != "" {
		ev = ev.Str("logger", e.Logger)
	}
	if e.CorrelationID != "" {
		ev = ev.Str("correlation_id", e.CorrelationID)
	}
	for k, v := range e.Fields {
		ev = ev.Interface(k, v)
	}
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	ev.Msg(e.Message)
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelTrace:
		return zerolog.TraceLevel
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
