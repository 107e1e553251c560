package logger

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
)

// NewMockLogger returns a debug level logger for tests. With a *testing.T the JSON lines go
// to the test log, fields included; without one they are discarded.
func NewMockLogger(t ...*testing.T) Logger {
	var w io.Writer = io.Discard
	if len(t) > 0 && t[0] != nil {
		w = zerolog.NewTestWriter(t[0])
	}
	return &zerologLogger{
		logger: zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger(),
	}
}
