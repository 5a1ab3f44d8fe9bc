package plugin

import (
	"context"

	"github.com/rs/zerolog"
)

// Output is a metrics store or stream a Point can be written to.
type Output interface {
	Name() string
	Start() error
	Write(ctx context.Context, p Point) error
	Stop() error
}

// LogSetter is implemented by plugins that log on their own goroutines.
// The daemon hands them its logger before Start.
type LogSetter interface {
	SetLogger(log zerolog.Logger)
}
