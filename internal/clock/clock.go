package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall time so reward windows and holding delays are testable.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(New),
)
