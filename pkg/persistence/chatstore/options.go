package chatstore

import (
	"time"

	"github.com/google/uuid"
)

type storeOptions struct {
	now   func() time.Time
	newID func() string
}

// Option configures the SQLite and in-memory stores.
type Option func(*storeOptions)

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides uuid-based identifiers.
func WithIDGenerator(newID func() string) Option {
	return func(o *storeOptions) {
		if newID != nil {
			o.newID = newID
		}
	}
}

func buildOptions(opts []Option) storeOptions {
	o := storeOptions{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func (o storeOptions) nowMs() int64 {
	return o.now().UnixMilli()
}
